package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// seedStaleWeek writes a full week of dailies while the sample threshold is
// out of reach, so no weekly record exists afterwards.
func seedStaleWeek(t *testing.T, api *testAPI, indicatorID string) {
	t.Helper()
	api.engine.MinDailySamples = 100
	defer func() { api.engine.MinDailySamples = kpi.DefaultMinDailySamples }()

	for d := 18; d <= 22; d++ {
		api.upsert(map[string]any{
			"indicator_id": indicatorID, "granularity": "daily",
			"date": fmt.Sprintf("2023-11-%02d", d), "performance": 2,
		}, "")
	}
}

func TestRollupScheduler_RunOnce(t *testing.T) {
	// GIVEN: Two indicators, one with a week that was never rolled up
	api := newTestAPI(t)
	api.createIndicator("sales", "inc")
	api.createIndicator("visits", "inc")
	seedStaleWeek(t, api, "sales")

	rec := api.do(http.MethodGet, "/api/indicators/sales/series/weekly", "", nil)
	require.Empty(t, decodeAs[[]RecordDTO](t, rec))

	// WHEN: One reconciliation pass runs
	rs := NewRollupScheduler(api.engine, nil)
	run := rs.RunOnce(context.Background())

	// THEN: The stale week is rolled and nothing failed
	assert.Equal(t, 2, run.Indicators)
	assert.Equal(t, 1, run.WeeksRolled)
	assert.Zero(t, run.Failures)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	rec = api.do(http.MethodGet, "/api/indicators/sales/series/weekly", "", nil)
	weekly := decodeAs[[]RecordDTO](t, rec)
	require.Len(t, weekly, 1)
	assert.Equal(t, 10.0, *weekly[0].Performance)
}

func TestRollupScheduler_RunHistory(t *testing.T) {
	api := newTestAPI(t)
	rs := NewRollupScheduler(api.engine, nil)

	for i := 0; i < maxRecordedRuns+3; i++ {
		rs.RunOnce(context.Background())
	}
	runs := rs.Runs()
	require.Len(t, runs, maxRecordedRuns)
	assert.False(t, runs[0].StartedAt.Before(runs[1].StartedAt), "newest first")
}

func TestRollupScheduler_StartStop(t *testing.T) {
	api := newTestAPI(t)

	// GIVEN: A disabled scheduler
	rs := NewRollupScheduler(api.engine, nil)
	rs.Enabled = false
	rs.Start()
	rs.Stop()
	assert.Empty(t, rs.Runs())

	// WHEN: Enabled, it runs once right away
	rs.Enabled = true
	rs.CheckInterval = time.Hour
	rs.Start()
	require.Eventually(t, func() bool { return len(rs.Runs()) == 1 }, time.Second, 5*time.Millisecond)
	rs.Stop()

	// THEN: The handler exposes the run
	h := NewHandler(api.engine, nil)
	h.Scheduler = rs
	router := NewRouter(h, nil)
	api.router = router
	rec := api.do(http.MethodGet, "/api/rollup/runs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]RollupRunDTO](t, rec), 1)
}
