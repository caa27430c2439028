package kpi

import (
	"context"

	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/ethiocal"
)

// Engine ties the store to the calendar and holds the rollup settings.
// All operations are synchronous; the engine keeps no state between calls.
type Engine struct {
	Store    Store
	Calendar ethiocal.Converter
	Logger   *zap.Logger

	// RollupScope controls how much history is re-aggregated after a daily
	// write. Explicit RecomputeWeeklyRollup calls always scan everything.
	RollupScope RollupScope
	// MinDailySamples is the number of daily records a week needs before a
	// weekly record is derived from it.
	MinDailySamples int
}

// NewEngine returns an engine with the standard calendar, week-scoped
// rollups and the default sample threshold.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:           store,
		Calendar:        ethiocal.Standard{},
		Logger:          logger,
		RollupScope:     RollupScopeWeek,
		MinDailySamples: DefaultMinDailySamples,
	}
}

func (e *Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) calendar() ethiocal.Converter {
	if e.Calendar == nil {
		return ethiocal.Standard{}
	}
	return e.Calendar
}

func (e *Engine) minSamples() int {
	if e.MinDailySamples <= 0 {
		return DefaultMinDailySamples
	}
	return e.MinDailySamples
}

// withTx runs fn atomically when the store supports transactions.
func (e *Engine) withTx(ctx context.Context, fn func(Store) error) error {
	if tx, ok := e.Store.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(e.Store)
}
