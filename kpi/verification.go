package kpi

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Verification only flips flags. Who may call it is decided by the caller
// (see requireManager in api/server.go); the engine does not know about users.

// VerifyRecords marks records of one granularity as verified and returns
// how many rows changed.
func (e *Engine) VerifyRecords(ctx context.Context, g Granularity, ids []RecordID) (int, error) {
	if !g.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := e.Store.SetRecordsVerified(ctx, g, ids, true)
	if err != nil {
		return 0, fmt.Errorf("verify %s records: %w", g, err)
	}
	e.log().Info("records verified", zap.String("granularity", string(g)), zap.Int("count", n))
	return n, nil
}

// VerifyIndicators marks indicators as verified.
func (e *Engine) VerifyIndicators(ctx context.Context, ids []IndicatorID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := e.Store.SetIndicatorsVerified(ctx, ids, true)
	if err != nil {
		return 0, fmt.Errorf("verify indicators: %w", err)
	}
	e.log().Info("indicators verified", zap.Int("count", n))
	return n, nil
}

// PendingRecords lists unverified records of one granularity. When
// categoryID is set only indicators of that category are included.
func (e *Engine) PendingRecords(ctx context.Context, g Granularity, categoryID *CategoryID) ([]Record, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
	unverified := false
	filter := RecordFilter{Granularity: g, Verified: &unverified}

	if categoryID != nil {
		inds, err := e.Store.ListIndicators(ctx, IndicatorFilter{CategoryID: categoryID})
		if err != nil {
			return nil, fmt.Errorf("list indicators of category %s: %w", *categoryID, err)
		}
		if len(inds) == 0 {
			return []Record{}, nil
		}
		for _, ind := range inds {
			filter.IndicatorIDs = append(filter.IndicatorIDs, ind.ID)
		}
	}
	return e.Store.ListRecords(ctx, filter)
}
