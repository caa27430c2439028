package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethstat/kpi-dashboard/kpi"
	"github.com/ethstat/kpi-dashboard/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*kpi.Engine, *sqlite.Store) {
	t.Helper()
	s := newTestStore(t)
	engine := kpi.NewEngine(s, nil)
	require.NoError(t, engine.SeedReference(context.Background()))
	return engine, s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// INDICATORS
// =============================================================================

func TestSQLite_IndicatorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCategory(ctx, kpi.Category{ID: "c-eco", Code: "ECO", NameENG: "Economy"}))
	require.NoError(t, s.SaveCategory(ctx, kpi.Category{ID: "c-agr", Code: "AGR", NameENG: "Agriculture"}))

	parent := kpi.IndicatorID("gdp")
	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{
		ID: "gdp", Code: "AGR-ECO-01", TitleENG: "GDP", Frequency: kpi.FrequencyAnnual,
		Characteristic: kpi.CharacteristicIncreasing, CategoryIDs: []kpi.CategoryID{"c-eco", "c-agr"},
	}))
	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{
		ID: "gdp-agr", Code: "AGR-ECO-01.1", TitleENG: "GDP agriculture", ParentID: &parent,
		Frequency: kpi.FrequencyAnnual, Characteristic: kpi.CharacteristicDecreasing,
	}))

	got, err := s.GetIndicator(ctx, "gdp")
	require.NoError(t, err)
	assert.Equal(t, "AGR-ECO-01", got.Code)
	assert.ElementsMatch(t, []kpi.CategoryID{"c-eco", "c-agr"}, got.CategoryIDs)
	assert.Nil(t, got.ParentID)
	assert.False(t, got.CreatedAt.IsZero())

	child, err := s.GetIndicator(ctx, "gdp-agr")
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent, *child.ParentID)
	assert.Equal(t, kpi.CharacteristicDecreasing, child.Characteristic)

	top, err := s.IndicatorCodes(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AGR-ECO-01"}, top)
	children, err := s.IndicatorCodes(ctx, &parent)
	require.NoError(t, err)
	assert.Equal(t, []string{"AGR-ECO-01.1"}, children)

	cat := kpi.CategoryID("c-agr")
	byCat, err := s.ListIndicators(ctx, kpi.IndicatorFilter{CategoryID: &cat})
	require.NoError(t, err)
	require.Len(t, byCat, 1)
	// Filtering by one category still returns every category of the indicator
	assert.Len(t, byCat[0].CategoryIDs, 2)

	_, err = s.GetIndicator(ctx, "ghost")
	assert.ErrorIs(t, err, kpi.ErrIndicatorNotFound)
}

func TestSQLite_DuplicateCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{ID: "a", Code: "DUP", TitleENG: "a", Frequency: kpi.FrequencyAnnual}))
	err := s.SaveIndicator(ctx, kpi.Indicator{ID: "b", Code: "DUP", TitleENG: "b", Frequency: kpi.FrequencyAnnual})
	assert.ErrorIs(t, err, kpi.ErrDuplicateCode)

	// Indicators without a code never collide
	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{ID: "c", TitleENG: "c", Frequency: kpi.FrequencyAnnual}))
	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{ID: "d", TitleENG: "d", Frequency: kpi.FrequencyAnnual}))

	require.NoError(t, s.SaveCategory(ctx, kpi.Category{ID: "x", Code: "ECO"}))
	err = s.SaveCategory(ctx, kpi.Category{ID: "y", Code: "ECO"})
	assert.ErrorIs(t, err, kpi.ErrDuplicateCode)
}

func TestSQLite_RepeatedCategoryIsStoredOnce(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCategory(ctx, kpi.Category{ID: "c-eco", Code: "ECO", NameENG: "Economy"}))

	ind, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP", CategoryIDs: []kpi.CategoryID{"c-eco", "c-eco"}})
	require.NoError(t, err)

	got, err := s.GetIndicator(ctx, ind.ID)
	require.NoError(t, err)
	assert.Equal(t, []kpi.CategoryID{"c-eco"}, got.CategoryIDs)
}

func TestSQLite_VerifyIndicators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP", Frequency: kpi.FrequencyAnnual}))

	n, err := s.SetIndicatorsVerified(ctx, []kpi.IndicatorID{"gdp", "ghost"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	verified := true
	list, err := s.ListIndicators(ctx, kpi.IndicatorFilter{Verified: &verified})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsVerified)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestSQLite_GetOrCreateDataPoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dp, created, err := s.GetOrCreateDataPoint(ctx, 2016)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "2023/2024", dp.YearGC)

	again, created, err := s.GetOrCreateDataPoint(ctx, 2016)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, dp.ID, again.ID)
}

func TestSQLite_SeededReferenceRows(t *testing.T) {
	_, s := newTestEngine(t)
	ctx := context.Background()

	q, err := s.GetQuarter(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Number)

	m, err := s.GetMonth(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Hidar", m.NameENG)

	_, err = s.GetMonth(ctx, 13)
	var pnf *kpi.PeriodNotFoundError
	require.True(t, errors.As(err, &pnf))
	assert.Equal(t, "month", pnf.Kind)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestSQLite_UpsertIsIdempotentPerKey(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP"})
	require.NoError(t, err)

	sub := kpi.Submission{
		IndicatorID: "gdp",
		Granularity: kpi.GranularityQuarterly,
		Period:      kpi.Period{YearEC: 2016, Quarter: 2},
		Performance: "10.456",
	}
	first, created, err := engine.ResolveAndUpsert(ctx, sub)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Performance.Decimal.Equal(dec("10.46")))

	sub.Performance = "12"
	second, created, err := engine.ResolveAndUpsert(ctx, sub)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.GetRecord(ctx, kpi.GranularityQuarterly, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Performance.Decimal.Equal(dec("12")))
	assert.Equal(t, 2016, got.YearEC)
	assert.Equal(t, 2, got.Quarter)
	assert.False(t, got.Target.Valid)

	_, err = s.GetRecord(ctx, kpi.GranularityMonthly, first.ID)
	assert.ErrorIs(t, err, kpi.ErrRecordNotFound)
}

func TestSQLite_UpsertRequiresContainers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP", Frequency: kpi.FrequencyAnnual}))

	_, _, err := s.UpsertRecord(ctx, kpi.NewRecordKey("gdp", kpi.GranularityAnnual, kpi.Period{YearEC: 2016}), kpi.RecordValues{})
	assert.ErrorIs(t, err, kpi.ErrPeriodNotFound)

	_, _, err = s.UpsertRecord(ctx, kpi.NewRecordKey("ghost", kpi.GranularityDaily, kpi.Period{Date: day(2023, 11, 18)}), kpi.RecordValues{})
	assert.ErrorIs(t, err, kpi.ErrIndicatorNotFound)
}

func TestSQLite_ListRecordsFilters(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "sales", TitleENG: "Sales"})
	require.NoError(t, err)

	for _, d := range []int{20, 18, 19} {
		_, _, err := s.UpsertRecord(ctx,
			kpi.NewRecordKey("sales", kpi.GranularityDaily, kpi.Period{Date: day(2023, 11, d)}),
			kpi.RecordValues{Performance: kpi.NullDecimal(decimal.NewFromInt(int64(d)))})
		require.NoError(t, err)
	}

	from, to := day(2023, 11, 19), day(2023, 11, 20)
	recs, err := s.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityDaily, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, day(2023, 11, 19), recs[0].Date)
	assert.Equal(t, day(2023, 11, 20), recs[1].Date)

	weekly, err := s.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityWeekly})
	require.NoError(t, err)
	assert.Empty(t, weekly)
}

func TestSQLite_WeeklyRollup(t *testing.T) {
	// GIVEN: Five daily values in Hidar week 2 of 2016
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "sales", TitleENG: "Sales"})
	require.NoError(t, err)

	for i, v := range []string{"10", "20", "30", "40", "50"} {
		_, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
			IndicatorID: "sales",
			Granularity: kpi.GranularityDaily,
			Period:      kpi.Period{Date: day(2023, 11, 18+i)},
			Performance: v,
			Target:      "5",
		})
		require.NoError(t, err)
	}

	// THEN: One weekly record dated at the earliest day holds the sums
	weekly, err := s.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityWeekly})
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, day(2023, 11, 18), weekly[0].Date)
	assert.True(t, weekly[0].Performance.Decimal.Equal(dec("150")))
	assert.True(t, weekly[0].Target.Decimal.Equal(dec("25")))
}

func TestSQLite_WeeklyRollupRedated(t *testing.T) {
	// GIVEN: A weekly record built from 2023-11-19 .. 2023-11-23
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "sales", TitleENG: "Sales"})
	require.NoError(t, err)

	write := func(d int) {
		_, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
			IndicatorID: "sales",
			Granularity: kpi.GranularityDaily,
			Period:      kpi.Period{Date: day(2023, 11, d)},
			Performance: "10",
		})
		require.NoError(t, err)
	}
	for d := 19; d <= 23; d++ {
		write(d)
	}

	// WHEN: The day before arrives
	write(18)

	// THEN: Only the re-dated weekly row remains
	weekly, err := s.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityWeekly})
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, day(2023, 11, 18), weekly[0].Date)
	assert.True(t, weekly[0].Performance.Decimal.Equal(dec("60")))

	daily, err := s.ListRecords(ctx, kpi.RecordFilter{Granularity: kpi.GranularityDaily})
	require.NoError(t, err)
	assert.Len(t, daily, 6)
}

func TestSQLite_DeleteRecordsScopedByGranularity(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "sales", TitleENG: "Sales"})
	require.NoError(t, err)
	rec, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
		IndicatorID: "sales", Granularity: kpi.GranularityDaily,
		Period: kpi.Period{Date: day(2023, 11, 18)}, Performance: "1",
	})
	require.NoError(t, err)

	n, err := s.DeleteRecords(ctx, kpi.GranularityWeekly, []kpi.RecordID{rec.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteRecords(ctx, kpi.GranularityDaily, []kpi.RecordID{rec.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.GetRecord(ctx, kpi.GranularityDaily, rec.ID)
	assert.ErrorIs(t, err, kpi.ErrRecordNotFound)
}

func TestSQLite_AnnualComparison(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP"})
	require.NoError(t, err)

	for year, v := range map[int]string{2015: "100", 2016: "120"} {
		_, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
			IndicatorID: "gdp", Granularity: kpi.GranularityAnnual,
			Period: kpi.Period{YearEC: year}, Performance: v,
		})
		require.NoError(t, err)
	}

	series, err := engine.Series(ctx, "gdp", kpi.GranularityAnnual, kpi.SeriesOptions{})
	require.NoError(t, err)
	require.Len(t, series, 2)

	cmp, err := engine.Compare(ctx, series[1].Record, 1)
	require.NoError(t, err)
	require.NotNil(t, cmp)
	assert.True(t, cmp.Change.Equal(dec("20")))
	assert.True(t, cmp.Percent.Equal(dec("20")))
}

func TestSQLite_VerifyRecordsScopedByGranularity(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()
	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "sales", TitleENG: "Sales"})
	require.NoError(t, err)

	rec, _, err := engine.ResolveAndUpsert(ctx, kpi.Submission{
		IndicatorID: "sales", Granularity: kpi.GranularityDaily,
		Period: kpi.Period{Date: day(2023, 11, 18)}, Performance: "1",
	})
	require.NoError(t, err)

	n, err := s.SetRecordsVerified(ctx, kpi.GranularityWeekly, []kpi.RecordID{rec.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.SetRecordsVerified(ctx, kpi.GranularityDaily, []kpi.RecordID{rec.ID}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx kpi.Store) error {
		if err := tx.SaveIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP", Frequency: kpi.FrequencyAnnual}); err != nil {
			return err
		}
		if _, _, err := tx.GetOrCreateDataPoint(ctx, 2016); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetIndicator(ctx, "gdp")
	assert.ErrorIs(t, err, kpi.ErrIndicatorNotFound)
	dps, err := s.ListDataPoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, dps)
}
