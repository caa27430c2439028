/*
scheduler.go - Periodic weekly rollup reconciliation

PURPOSE:
  Daily writes refresh only the week they fall in. Anything that bypasses
  that path (a failed rollup, a direct database import, a changed sample
  threshold) leaves weekly rows stale. The scheduler periodically runs a
  full recompute for every indicator to bring them back in line.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - A failing indicator is logged and counted; the run continues
  - The last few runs are kept in memory for GET /api/rollup/runs

CONFIGURATION (config.RollupConfig):
  - reconcile_enabled:  whether Start does anything (default: false)
  - reconcile_interval: time between runs (default: 1 hour)

USAGE:
  scheduler := NewRollupScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecomputeRollup endpoint (manual, one indicator)
  - kpi/rollup.go: RecomputeWeeklyRollup
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// maxRecordedRuns bounds the run history kept for the API.
const maxRecordedRuns = 20

// RollupRun summarizes one reconciliation pass.
type RollupRun struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Indicators  int
	WeeksRolled int
	Failures    int
}

// RollupScheduler recomputes every indicator's weekly rollup on a timer.
type RollupScheduler struct {
	Engine        *kpi.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []RollupRun
}

// NewRollupScheduler creates a scheduler that is enabled with an hourly interval.
func NewRollupScheduler(engine *kpi.Engine, logger *zap.Logger) *RollupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RollupScheduler{
		Engine:        engine,
		Logger:        logger.Named("rollup-scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *RollupScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Logger.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *RollupScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("stopped")
}

func (rs *RollupScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	rs.RunOnce(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.RunOnce(ctx)
		case <-rs.stop:
			return
		}
	}
}

// RunOnce recomputes the weekly rollup of every indicator.
func (rs *RollupScheduler) RunOnce(ctx context.Context) RollupRun {
	run := RollupRun{StartedAt: time.Now().UTC()}

	indicators, err := rs.Engine.Store.ListIndicators(ctx, kpi.IndicatorFilter{})
	if err != nil {
		rs.Logger.Error("failed to list indicators", zap.Error(err))
		run.Failures++
		run.FinishedAt = time.Now().UTC()
		rs.record(run)
		return run
	}

	for _, ind := range indicators {
		if ctx.Err() != nil {
			break
		}
		run.Indicators++
		result, err := rs.Engine.RecomputeWeeklyRollup(ctx, ind.ID)
		if err != nil {
			run.Failures++
			rs.Logger.Warn("rollup failed",
				zap.String("indicator_id", string(ind.ID)),
				zap.Error(err))
			continue
		}
		run.WeeksRolled += len(result.Rolled)
	}

	run.FinishedAt = time.Now().UTC()
	rs.record(run)
	rs.Logger.Info("reconciliation finished",
		zap.Int("indicators", run.Indicators),
		zap.Int("weeks_rolled", run.WeeksRolled),
		zap.Int("failures", run.Failures),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
	return run
}

func (rs *RollupScheduler) record(run RollupRun) {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()
	rs.runs = append(rs.runs, run)
	if len(rs.runs) > maxRecordedRuns {
		rs.runs = rs.runs[len(rs.runs)-maxRecordedRuns:]
	}
}

// Runs returns the recorded runs, newest first.
func (rs *RollupScheduler) Runs() []RollupRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()
	out := make([]RollupRun, len(rs.runs))
	for i, r := range rs.runs {
		out[len(rs.runs)-1-i] = r
	}
	return out
}
