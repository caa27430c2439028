package kpi_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethstat/kpi-dashboard/kpi"
)

func writeAnnual(t *testing.T, engine *kpi.Engine, id string, year int, value any) kpi.Record {
	t.Helper()
	rec, _, err := engine.ResolveAndUpsert(context.Background(), kpi.Submission{
		IndicatorID: kpi.IndicatorID(id),
		Granularity: kpi.GranularityAnnual,
		Period:      kpi.Period{YearEC: year},
		Performance: value,
	})
	require.NoError(t, err)
	return rec
}

// =============================================================================
// SIGN CONVENTION
// =============================================================================

func TestCompare_DecreasingIndicatorImproves(t *testing.T) {
	// GIVEN: A "dec" indicator fell from 100 to 80
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "infant-mortality", kpi.CharacteristicDecreasing)
	writeAnnual(t, engine, "infant-mortality", 2015, "100")
	current := writeAnnual(t, engine, "infant-mortality", 2016, "80")

	// WHEN: Compared with one year earlier
	c, err := engine.Compare(context.Background(), current, 1)
	require.NoError(t, err)
	require.NotNil(t, c)

	// THEN: The fall is reported as a positive change
	assert.True(t, c.Change.Equal(dec("20")), "change %s", c.Change)
	assert.True(t, c.Percent.Equal(dec("20")), "percent %s", c.Percent)
}

func TestCompare_IncreasingIndicatorWorsens(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	writeAnnual(t, engine, "gdp", 2015, "100")
	current := writeAnnual(t, engine, "gdp", 2016, "80")

	c, err := engine.Compare(context.Background(), current, 1)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.Change.Equal(dec("-20")))
	assert.True(t, c.Percent.Equal(dec("-20")))
}

func TestCompareValues_Characteristics(t *testing.T) {
	cur := kpi.NullDecimal(dec("110"))
	hist := kpi.NullDecimal(dec("100"))

	for _, tc := range []struct {
		ch     kpi.Characteristic
		change string
	}{
		{kpi.CharacteristicIncreasing, "10"},
		{kpi.CharacteristicDecreasing, "-10"},
		{kpi.CharacteristicConstant, "10"},
		{kpi.CharacteristicVolatile, "10"},
		{"unknown", "10"},
	} {
		change, percent, ok := kpi.CompareValues(tc.ch, cur, hist)
		require.True(t, ok)
		assert.True(t, change.Equal(dec(tc.change)), "%s: change %s", tc.ch, change)
		assert.True(t, percent.Equal(dec(tc.change)), "%s: percent %s", tc.ch, percent)
	}
}

func TestCompareValues_RoundsToOneDecimal(t *testing.T) {
	change, percent, ok := kpi.CompareValues(kpi.CharacteristicIncreasing,
		kpi.NullDecimal(dec("10")), kpi.NullDecimal(dec("3")))
	require.True(t, ok)
	assert.True(t, change.Equal(dec("7")))
	// 7 / 3 * 100 = 233.33...
	assert.True(t, percent.Equal(dec("233.3")), "percent %s", percent)
}

// =============================================================================
// NULL SAFETY
// =============================================================================

func TestCompareValues_Unavailable(t *testing.T) {
	null := decimal.NullDecimal{}
	zero := kpi.NullDecimal(decimal.Zero)
	ten := kpi.NullDecimal(dec("10"))

	_, _, ok := kpi.CompareValues(kpi.CharacteristicIncreasing, null, ten)
	assert.False(t, ok, "current null")
	_, _, ok = kpi.CompareValues(kpi.CharacteristicIncreasing, ten, null)
	assert.False(t, ok, "historical null")
	_, _, ok = kpi.CompareValues(kpi.CharacteristicIncreasing, ten, zero)
	assert.False(t, ok, "historical zero")
}

func TestCompare_NoSibling(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	current := writeAnnual(t, engine, "gdp", 2016, "80")

	c, err := engine.Compare(context.Background(), current, 1)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestCompare_HistoricalZero(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	writeAnnual(t, engine, "gdp", 2015, "0")
	current := writeAnnual(t, engine, "gdp", 2016, "80")

	c, err := engine.Compare(context.Background(), current, 1)
	require.NoError(t, err)
	assert.Nil(t, c)
}

// =============================================================================
// PERIOD MATCHING
// =============================================================================

func TestCompare_QuarterlyMatchesSameQuarter(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "exports", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	write := func(year, quarter int, v string) kpi.Record {
		rec, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
			IndicatorID: "exports",
			Granularity: kpi.GranularityQuarterly,
			Period:      kpi.Period{YearEC: year, Quarter: quarter},
			Performance: v,
		})
		require.NoError(t, err)
		return rec
	}
	write(2011, 2, "40")
	write(2015, 1, "999")
	write(2015, 2, "50")
	current := write(2016, 2, "60")

	all, err := engine.CompareAll(ctx, current)
	require.NoError(t, err)

	require.NotNil(t, all[1])
	assert.True(t, all[1].Change.Equal(dec("10")))
	assert.True(t, all[1].Percent.Equal(dec("20")))

	require.NotNil(t, all[5])
	assert.True(t, all[5].Change.Equal(dec("20")))
	assert.True(t, all[5].Percent.Equal(dec("50")))

	assert.Nil(t, all[10])
}

func TestCompare_MonthlyByID(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "revenue", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	var current kpi.Record
	for _, y := range []int{2006, 2016} {
		rec, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
			IndicatorID: "revenue",
			Granularity: kpi.GranularityMonthly,
			Period:      kpi.Period{YearEC: y, Month: 4},
			Performance: y - 2000,
		})
		require.NoError(t, err)
		current = rec
	}

	c, err := engine.CompareByID(ctx, kpi.GranularityMonthly, current.ID, 10)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 10, c.YearsBack)
	assert.True(t, c.Change.Equal(dec("10")))
	assert.True(t, c.Percent.Equal(dec("166.7")), "percent %s", c.Percent)
}

func TestCompare_RejectsDateKeyedRecords(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "sales", kpi.CharacteristicIncreasing)
	rec := writeDaily(t, engine, "sales", day(2023, 11, 18), "1")

	_, err := engine.Compare(context.Background(), rec, 1)
	assert.ErrorIs(t, err, kpi.ErrInvalidGranularity)
}

func TestCompare_RejectsNonPositiveLookback(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	rec := writeAnnual(t, engine, "gdp", 2016, "1")

	_, err := engine.Compare(context.Background(), rec, 0)
	assert.ErrorIs(t, err, kpi.ErrInvalidPeriod)
}
