package kpi_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethstat/kpi-dashboard/ethiocal"
	"github.com/ethstat/kpi-dashboard/kpi"
	"github.com/ethstat/kpi-dashboard/kpi/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine(t *testing.T) (*kpi.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := kpi.NewEngine(mem, nil)
	require.NoError(t, engine.SeedReference(context.Background()))
	return engine, mem
}

func createIndicator(t *testing.T, engine *kpi.Engine, id string, ch kpi.Characteristic) kpi.Indicator {
	t.Helper()
	ind, err := engine.CreateIndicator(context.Background(), kpi.Indicator{
		ID:             kpi.IndicatorID(id),
		TitleENG:       "Indicator " + id,
		Characteristic: ch,
	})
	require.NoError(t, err)
	return ind
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func boolPtr(b bool) *bool { return &b }

// =============================================================================
// DATAPOINT
// =============================================================================

func TestYearGC(t *testing.T) {
	assert.Equal(t, "2023/2024", kpi.YearGC(2016))
	assert.Equal(t, "2000/2001", kpi.YearGC(1993))
}

func TestResolve_AnnualCreatesDataPoint(t *testing.T) {
	// GIVEN: No DataPoint exists for 2016
	engine, mem := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	// WHEN: An annual value for 2016 is written
	rec, created, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
		IndicatorID: "gdp",
		Granularity: kpi.GranularityAnnual,
		Period:      kpi.Period{YearEC: 2016},
		Performance: "100",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2016, rec.YearEC)

	// THEN: The DataPoint exists with its Gregorian label derived
	dps, err := mem.ListDataPoints(ctx)
	require.NoError(t, err)
	require.Len(t, dps, 1)
	assert.Equal(t, 2016, dps[0].YearEC)
	assert.Equal(t, "2023/2024", dps[0].YearGC)
}

// =============================================================================
// UPSERT IDEMPOTENCE
// =============================================================================

func TestResolveAndUpsert_SameCellUpdatesInPlace(t *testing.T) {
	engine, mem := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	sub := kpi.Submission{
		IndicatorID: "gdp",
		Granularity: kpi.GranularityMonthly,
		Period:      kpi.Period{YearEC: 2016, Month: 3},
		Performance: 10.0,
	}

	first, created, err := engine.ResolveAndUpsert(ctx, sub)
	require.NoError(t, err)
	require.True(t, created)

	// WHEN: The same cell is written twice more
	sub.Performance = "12.345"
	second, created, err := engine.ResolveAndUpsert(ctx, sub)
	require.NoError(t, err)
	assert.False(t, created)
	_, _, err = engine.ResolveAndUpsert(ctx, sub)
	require.NoError(t, err)

	// THEN: One row, same id, last value wins (rounded to 2 places)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Performance.Decimal.Equal(dec("12.35")), "got %s", second.Performance.Decimal)

	all, err := mem.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityMonthly})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolveAndUpsert_TargetAndVerification(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	rec, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
		IndicatorID: "gdp",
		Granularity: kpi.GranularityQuarterly,
		Period:      kpi.Period{YearEC: 2016, Quarter: 2},
		Performance: "5",
		Target:      "8",
		IsVerified:  boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
	assert.True(t, rec.Target.Decimal.Equal(dec("8")))

	// A later write without target or flag leaves both untouched
	rec, created, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
		IndicatorID: "gdp",
		Granularity: kpi.GranularityQuarterly,
		Period:      kpi.Period{YearEC: 2016, Quarter: 2},
		Performance: "6",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, rec.IsVerified)
	assert.True(t, rec.Target.Valid)
	assert.True(t, rec.Performance.Decimal.Equal(dec("6")))
}

// =============================================================================
// RESOLUTION ERRORS
// =============================================================================

func TestResolve_Errors(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	cases := []struct {
		name     string
		sub      kpi.Submission
		sentinel error
	}{
		{
			name:     "unknown indicator",
			sub:      kpi.Submission{IndicatorID: "nope", Granularity: kpi.GranularityAnnual, Period: kpi.Period{YearEC: 2016}, Performance: 1},
			sentinel: kpi.ErrIndicatorNotFound,
		},
		{
			name:     "quarter 5",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityQuarterly, Period: kpi.Period{YearEC: 2016, Quarter: 5}, Performance: 1},
			sentinel: kpi.ErrPeriodNotFound,
		},
		{
			name:     "month 13",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityMonthly, Period: kpi.Period{YearEC: 2016, Month: 13}, Performance: 1},
			sentinel: kpi.ErrPeriodNotFound,
		},
		{
			name:     "annual without year",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityAnnual, Performance: 1},
			sentinel: kpi.ErrInvalidPeriod,
		},
		{
			name:     "quarterly without quarter",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityQuarterly, Period: kpi.Period{YearEC: 2016}, Performance: 1},
			sentinel: kpi.ErrInvalidPeriod,
		},
		{
			name:     "monthly without month",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityMonthly, Period: kpi.Period{YearEC: 2016}, Performance: 1},
			sentinel: kpi.ErrInvalidPeriod,
		},
		{
			name:     "daily without date",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityDaily, Performance: 1},
			sentinel: kpi.ErrInvalidPeriod,
		},
		{
			name:     "unknown granularity",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: "hourly", Period: kpi.Period{YearEC: 2016}, Performance: 1},
			sentinel: kpi.ErrInvalidGranularity,
		},
		{
			name:     "multi-valued cell",
			sub:      kpi.Submission{IndicatorID: "gdp", Granularity: kpi.GranularityAnnual, Period: kpi.Period{YearEC: 2016}, Performance: "10, 20"},
			sentinel: kpi.ErrInvalidValue,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := engine.ResolveAndUpsert(ctx, tc.sub)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.sentinel), "expected %v, got %v", tc.sentinel, err)
		})
	}
}

func TestResolve_PeriodNotFoundNamesThePeriod(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)

	_, err := engine.Resolve(context.Background(), "gdp", kpi.GranularityQuarterly, kpi.Period{YearEC: 2016, Quarter: 7})

	var pnf *kpi.PeriodNotFoundError
	require.True(t, errors.As(err, &pnf))
	assert.Equal(t, "quarter", pnf.Kind)
	assert.Equal(t, 7, pnf.Number)
}

// failingCalendar rejects every date.
type failingCalendar struct{}

func (failingCalendar) ToEthiopian(day, month, year int) (ethiocal.EthDate, error) {
	return ethiocal.EthDate{}, errors.New("converter unavailable")
}

func (failingCalendar) ToGregorian(d ethiocal.EthDate) (time.Time, error) {
	return time.Time{}, errors.New("converter unavailable")
}

func TestResolve_CalendarFailure(t *testing.T) {
	// GIVEN: A converter that cannot handle any date
	engine, mem := newTestEngine(t)
	createIndicator(t, engine, "sales", kpi.CharacteristicIncreasing)
	engine.Calendar = failingCalendar{}

	// WHEN: A daily value is written
	_, _, err := engine.ResolveAndUpsert(context.Background(), kpi.Submission{
		IndicatorID: "sales",
		Granularity: kpi.GranularityDaily,
		Period:      kpi.Period{Date: day(2023, 11, 18)},
		Performance: 10,
	})

	// THEN: The write is refused with a calendar error and nothing is stored
	require.Error(t, err)
	assert.ErrorIs(t, err, kpi.ErrCalendarConversion)
	assert.True(t, kpi.IsClientError(err))

	recs, err := mem.ListRecords(context.Background(), kpi.RecordFilter{Granularity: kpi.GranularityDaily})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// BATCH
// =============================================================================

func TestUpsertBatch_CollectsErrorsAndSkipsBlanks(t *testing.T) {
	engine, _ := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)

	subs := []kpi.Submission{
		{IndicatorID: "gdp", Granularity: kpi.GranularityAnnual, Period: kpi.Period{YearEC: 2015}, Performance: "90"},
		{IndicatorID: "gdp", Granularity: kpi.GranularityAnnual, Period: kpi.Period{YearEC: 2016}, Performance: "10 20"},
		{IndicatorID: "gdp", Granularity: kpi.GranularityAnnual, Period: kpi.Period{YearEC: 2017}, Performance: ""},
		{IndicatorID: "missing", Granularity: kpi.GranularityAnnual, Period: kpi.Period{YearEC: 2016}, Performance: "1"},
		{IndicatorID: "gdp", Granularity: kpi.GranularityMonthly, Period: kpi.Period{YearEC: 2016, Month: 1}, Performance: 7},
	}

	result := engine.UpsertBatch(context.Background(), subs)

	assert.Equal(t, 2, result.Saved())
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.ErrorIs(t, result.Errors[0].Err, kpi.ErrInvalidValue)
	assert.Equal(t, 3, result.Errors[1].Index)
	assert.ErrorIs(t, result.Errors[1].Err, kpi.ErrIndicatorNotFound)
	assert.Equal(t, 0, result.Results[0].Index)
	assert.Equal(t, 4, result.Results[1].Index)
}

func TestUpsertBatch_RollsUpDailyOncePerWeek(t *testing.T) {
	engine, mem := newTestEngine(t)
	createIndicator(t, engine, "sales", kpi.CharacteristicIncreasing)
	ctx := context.Background()

	var subs []kpi.Submission
	for d := 18; d <= 22; d++ {
		subs = append(subs, kpi.Submission{
			IndicatorID: "sales",
			Granularity: kpi.GranularityDaily,
			Period:      kpi.Period{Date: day(2023, 11, d)},
			Performance: "10",
		})
	}

	result := engine.UpsertBatch(ctx, subs)
	require.Empty(t, result.Errors)
	assert.Equal(t, 5, result.Saved())

	weekly, err := mem.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityWeekly})
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.True(t, weekly[0].Performance.Decimal.Equal(dec("50")))
}
