package kpi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// CODE GENERATION
// =============================================================================

func TestCodePrefix(t *testing.T) {
	assert.Equal(t, "AGR-ECO", kpi.CodePrefix([]string{"eco", "agr"}))
	assert.Equal(t, "HLT", kpi.CodePrefix([]string{"hlt"}))
}

func TestNextTopLevelCode(t *testing.T) {
	assert.Equal(t, "ECO-01", kpi.NextTopLevelCode("ECO", nil))
	assert.Equal(t, "ECO-04", kpi.NextTopLevelCode("ECO", []string{"ECO-01", "ECO-03", "HLT-09", "ECO-x"}))
	// A longer prefix that happens to start with ECO doesn't count
	assert.Equal(t, "ECO-02", kpi.NextTopLevelCode("ECO", []string{"ECO-01", "ECO-AGR-07"}))
}

func TestNextChildCode(t *testing.T) {
	assert.Equal(t, "ECO-01.1", kpi.NextChildCode("ECO-01", nil))
	assert.Equal(t, "ECO-01.3", kpi.NextChildCode("ECO-01", []string{"ECO-01.1", "ECO-01.2.5", "ECO-01.abc"}))
}

func TestCreateIndicator_GeneratesCodes(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveCategory(ctx, kpi.Category{ID: "c-eco", Code: "eco", NameENG: "Economy"}))
	require.NoError(t, mem.SaveCategory(ctx, kpi.Category{ID: "c-agr", Code: "agr", NameENG: "Agriculture"}))

	// GIVEN: Two top-level indicators in the same categories
	first, err := engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "Crop output", CategoryIDs: []kpi.CategoryID{"c-eco", "c-agr"}})
	require.NoError(t, err)
	second, err := engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "Livestock", CategoryIDs: []kpi.CategoryID{"c-agr", "c-eco"}})
	require.NoError(t, err)

	// THEN: They share a prefix and get consecutive suffixes
	assert.Equal(t, "AGR-ECO-01", first.Code)
	assert.Equal(t, "AGR-ECO-02", second.Code)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, kpi.CharacteristicIncreasing, first.Characteristic)

	// WHEN: Children are added
	parent := first.ID
	child1, err := engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "Teff", ParentID: &parent})
	require.NoError(t, err)
	child2, err := engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "Maize", ParentID: &parent})
	require.NoError(t, err)

	assert.Equal(t, "AGR-ECO-01.1", child1.Code)
	assert.Equal(t, "AGR-ECO-01.2", child2.Code)
}

func TestCreateIndicator_RepeatedCategory(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveCategory(ctx, kpi.Category{ID: "c-eco", Code: "eco", NameENG: "Economy"}))

	ind, err := engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "GDP", CategoryIDs: []kpi.CategoryID{"c-eco", "c-eco"}})
	require.NoError(t, err)
	assert.Equal(t, []kpi.CategoryID{"c-eco"}, ind.CategoryIDs)
	assert.Equal(t, "ECO-01", ind.Code)
}

func TestCreateIndicator_Errors(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "x", CategoryIDs: []kpi.CategoryID{"missing"}})
	assert.ErrorIs(t, err, kpi.ErrCategoryNotFound)

	ghost := kpi.IndicatorID("ghost")
	_, err = engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "x", ParentID: &ghost})
	assert.ErrorIs(t, err, kpi.ErrIndicatorNotFound)

	_, err = engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "a", Code: "DUP"})
	require.NoError(t, err)
	_, err = engine.CreateIndicator(ctx, kpi.Indicator{TitleENG: "b", Code: "DUP"})
	assert.ErrorIs(t, err, kpi.ErrDuplicateCode)
}

func TestCreateIndicator_NoCategoriesNoCode(t *testing.T) {
	engine, _ := newTestEngine(t)
	ind, err := engine.CreateIndicator(context.Background(), kpi.Indicator{TitleENG: "Loose"})
	require.NoError(t, err)
	assert.Empty(t, ind.Code)
}

// =============================================================================
// VERIFICATION
// =============================================================================

func TestPendingRecords_ScopedByCategory(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveCategory(ctx, kpi.Category{ID: "c-eco", Code: "eco"}))

	_, err := engine.CreateIndicator(ctx, kpi.Indicator{ID: "gdp", TitleENG: "GDP", CategoryIDs: []kpi.CategoryID{"c-eco"}})
	require.NoError(t, err)
	createIndicator(t, engine, "other", kpi.CharacteristicIncreasing)

	writeAnnual(t, engine, "gdp", 2016, "1")
	writeAnnual(t, engine, "other", 2016, "1")

	all, err := engine.PendingRecords(ctx, kpi.GranularityAnnual, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cat := kpi.CategoryID("c-eco")
	scoped, err := engine.PendingRecords(ctx, kpi.GranularityAnnual, &cat)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, kpi.IndicatorID("gdp"), scoped[0].IndicatorID)

	n, err := engine.VerifyRecords(ctx, kpi.GranularityAnnual, []kpi.RecordID{scoped[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	scoped, err = engine.PendingRecords(ctx, kpi.GranularityAnnual, &cat)
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestVerifyIndicators(t *testing.T) {
	engine, mem := newTestEngine(t)
	createIndicator(t, engine, "gdp", kpi.CharacteristicIncreasing)

	n, err := engine.VerifyIndicators(context.Background(), []kpi.IndicatorID{"gdp", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ind, err := mem.GetIndicator(context.Background(), "gdp")
	require.NoError(t, err)
	assert.True(t, ind.IsVerified)
}

func TestSeedReference_Idempotent(t *testing.T) {
	engine, mem := newTestEngine(t)
	require.NoError(t, engine.SeedReference(context.Background()))

	qs, err := mem.ListQuarters(context.Background())
	require.NoError(t, err)
	assert.Len(t, qs, 4)
	ms, err := mem.ListMonths(context.Background())
	require.NoError(t, err)
	assert.Len(t, ms, 12)
	assert.Equal(t, "Hidar", ms[2].NameENG)
}
