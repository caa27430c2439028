package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethstat/kpi-dashboard/kpi"
	"github.com/ethstat/kpi-dashboard/kpi/store"
)

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A store holding one indicator
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveIndicator(ctx, kpi.Indicator{ID: "gdp", Code: "ECO-01"}))

	// WHEN: A transaction writes and then fails
	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s kpi.Store) error {
		if err := s.SaveIndicator(ctx, kpi.Indicator{ID: "cpi", Code: "ECO-02"}); err != nil {
			return err
		}
		if _, _, err := s.GetOrCreateDataPoint(ctx, 2016); err != nil {
			return err
		}
		return boom
	})

	// THEN: None of its writes survive
	assert.ErrorIs(t, err, boom)
	_, err = mem.GetIndicator(ctx, "cpi")
	assert.ErrorIs(t, err, kpi.ErrIndicatorNotFound)
	dps, err := mem.ListDataPoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, dps)
}

func TestMemory_WithTxCommits(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s kpi.Store) error {
		return s.SaveIndicator(ctx, kpi.Indicator{ID: "gdp"})
	})
	require.NoError(t, err)

	_, err = mem.GetIndicator(ctx, "gdp")
	assert.NoError(t, err)
}

func TestMemory_UpsertRequiresContainers(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveIndicator(ctx, kpi.Indicator{ID: "gdp"}))

	key := kpi.NewRecordKey("gdp", kpi.GranularityAnnual, kpi.Period{YearEC: 2016})
	_, _, err := mem.UpsertRecord(ctx, key, kpi.RecordValues{})
	assert.ErrorIs(t, err, kpi.ErrPeriodNotFound)

	_, _, err = mem.UpsertRecord(ctx, kpi.NewRecordKey("nope", kpi.GranularityAnnual, kpi.Period{YearEC: 2016}), kpi.RecordValues{})
	assert.ErrorIs(t, err, kpi.ErrIndicatorNotFound)
}

func TestMemory_GetOrCreateDataPoint(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	dp, created, err := mem.GetOrCreateDataPoint(ctx, 2016)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "2023/2024", dp.YearGC)

	again, created, err := mem.GetOrCreateDataPoint(ctx, 2016)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, dp.ID, again.ID)
}
