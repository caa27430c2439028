/*
resolver.go - Period identity resolution and record upsert

PURPOSE:
  Turns an (indicator, granularity, period, value) submission into exactly
  one fact row. Every entry point that writes values goes through here so
  that a cell can never end up with two rows.

RESOLUTION RULES:
  annual:    (indicator, DataPoint)            DataPoint is created on demand
  quarterly: (indicator, DataPoint, Quarter)   Quarter must already exist
  monthly:   (indicator, DataPoint, Month)     Month must already exist
  weekly:    (indicator, "weekly", date)       date must be convertible
  daily:     (indicator, "daily", date)        date must be convertible,
                                               then the weekly rollup runs

VALUES:
  Performance and target are stored rounded to two decimals. Writes are
  last-write-wins; there is no version check.

SEE ALSO:
  - period.go: RecordKey and its normalization
  - rollup.go: the weekly rollup triggered by daily writes
*/
package kpi

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/ethiocal"
)

// Submission is one value written by a client.
type Submission struct {
	IndicatorID IndicatorID
	Granularity Granularity
	Period      Period
	Performance any
	// Target is left untouched when nil. A blank value clears it.
	Target any
	// IsVerified is left untouched when nil.
	IsVerified *bool
}

// =============================================================================
// RESOLVE
// =============================================================================

// Resolve locates (or, for DataPoints, creates) the period containers of a
// submission and returns the natural key of its record.
func (e *Engine) Resolve(ctx context.Context, indicatorID IndicatorID, g Granularity, p Period) (RecordKey, error) {
	if err := p.Validate(g); err != nil {
		return RecordKey{}, err
	}
	if _, err := e.Store.GetIndicator(ctx, indicatorID); err != nil {
		return RecordKey{}, err
	}

	switch {
	case g.FiscalYearKeyed():
		if _, _, err := e.Store.GetOrCreateDataPoint(ctx, p.YearEC); err != nil {
			return RecordKey{}, fmt.Errorf("resolve data point %d: %w", p.YearEC, err)
		}
		if g == GranularityQuarterly {
			if _, err := e.Store.GetQuarter(ctx, p.Quarter); err != nil {
				return RecordKey{}, err
			}
		}
		if g == GranularityMonthly {
			if _, err := e.Store.GetMonth(ctx, p.Month); err != nil {
				return RecordKey{}, err
			}
		}
	case g.DateKeyed():
		if _, err := e.toEthiopian(p.Date); err != nil {
			return RecordKey{}, err
		}
	}

	return NewRecordKey(indicatorID, g, p), nil
}

// toEthiopian converts through the engine's calendar and wraps failures.
func (e *Engine) toEthiopian(t time.Time) (ethiocal.EthDate, error) {
	d, err := e.calendar().ToEthiopian(t.Day(), int(t.Month()), t.Year())
	if err != nil {
		return ethiocal.EthDate{}, &CalendarConversionError{Date: t.Format(DateLayout), Err: err}
	}
	return d, nil
}

// =============================================================================
// UPSERT
// =============================================================================

// ResolveAndUpsert writes one submission. It returns the stored record and
// whether it was created. A daily write also refreshes the weekly rollup;
// if that fails the record is still saved and returned with the error.
func (e *Engine) ResolveAndUpsert(ctx context.Context, s Submission) (Record, bool, error) {
	rec, created, err := e.upsert(ctx, s)
	if err != nil {
		return Record{}, false, err
	}
	if rec.Granularity == GranularityDaily {
		if _, err := e.rollupAfterDaily(ctx, rec.IndicatorID, rec.Date); err != nil {
			return rec, created, fmt.Errorf("record saved but weekly rollup failed: %w", err)
		}
	}
	return rec, created, nil
}

func (e *Engine) upsert(ctx context.Context, s Submission) (Record, bool, error) {
	values, err := s.values()
	if err != nil {
		return Record{}, false, err
	}
	key, err := e.Resolve(ctx, s.IndicatorID, s.Granularity, s.Period)
	if err != nil {
		return Record{}, false, err
	}
	rec, created, err := e.Store.UpsertRecord(ctx, key, values)
	if err != nil {
		return Record{}, false, fmt.Errorf("upsert %s: %w", key, err)
	}
	e.log().Debug("record upserted",
		zap.String("key", key.String()),
		zap.String("record_id", string(rec.ID)),
		zap.Bool("created", created))
	return rec, created, nil
}

func (s Submission) values() (RecordValues, error) {
	perf, err := ParseValue(s.Performance)
	if err != nil {
		return RecordValues{}, err
	}
	values := RecordValues{
		Performance: Round2(NullDecimal(perf)),
		IsVerified:  s.IsVerified,
	}
	if s.Target != nil {
		target, err := ParseOptionalValue(s.Target)
		if err != nil {
			return RecordValues{}, err
		}
		target = Round2(target)
		values.Target = &target
	}
	return values, nil
}

// =============================================================================
// BATCH
// =============================================================================

// BatchItem is a saved submission.
type BatchItem struct {
	Index   int
	Record  Record
	Created bool
}

// BatchError is a submission that failed. Index points into the input slice.
type BatchError struct {
	Index       int
	IndicatorID IndicatorID
	Err         error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.IndicatorID, e.Err)
}

// BatchResult collects the outcome of UpsertBatch.
type BatchResult struct {
	Results []BatchItem
	Errors  []BatchError
	// Skipped counts submissions with a blank performance value.
	Skipped int
}

// Saved is the number of records written.
func (r BatchResult) Saved() int {
	return len(r.Results)
}

type weekRef struct {
	indicatorID IndicatorID
	week        ethiocal.WeekKey
}

// UpsertBatch writes each submission independently. Blank values are
// skipped, failures are collected, and one bad item never stops the rest.
// Daily writes are rolled up once per affected week after all items ran.
func (e *Engine) UpsertBatch(ctx context.Context, subs []Submission) BatchResult {
	var result BatchResult
	pending := make(map[weekRef]int)
	var order []weekRef

	for i, s := range subs {
		if IsEmptyValue(s.Performance) {
			result.Skipped++
			e.log().Debug("skipping blank value", zap.Int("index", i), zap.String("indicator_id", string(s.IndicatorID)))
			continue
		}
		rec, created, err := e.upsert(ctx, s)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, IndicatorID: s.IndicatorID, Err: err})
			continue
		}
		result.Results = append(result.Results, BatchItem{Index: i, Record: rec, Created: created})

		if rec.Granularity != GranularityDaily {
			continue
		}
		d, err := e.toEthiopian(rec.Date)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{Index: i, IndicatorID: s.IndicatorID, Err: err})
			continue
		}
		ref := weekRef{indicatorID: rec.IndicatorID, week: d.WeekKey()}
		if _, seen := pending[ref]; !seen {
			pending[ref] = i
			order = append(order, ref)
		}
	}

	if e.RollupScope == RollupScopeFull {
		done := make(map[IndicatorID]bool)
		for _, ref := range order {
			if done[ref.indicatorID] {
				continue
			}
			done[ref.indicatorID] = true
			if _, err := e.RecomputeWeeklyRollup(ctx, ref.indicatorID); err != nil {
				result.Errors = append(result.Errors, BatchError{Index: pending[ref], IndicatorID: ref.indicatorID,
					Err: fmt.Errorf("record saved but weekly rollup failed: %w", err)})
			}
		}
		return result
	}

	for _, ref := range order {
		if _, err := e.recomputeWeekKey(ctx, ref.indicatorID, ref.week); err != nil {
			result.Errors = append(result.Errors, BatchError{Index: pending[ref], IndicatorID: ref.indicatorID,
				Err: fmt.Errorf("record saved but weekly rollup failed: %w", err)})
		}
	}
	return result
}
