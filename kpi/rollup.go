/*
rollup.go - Daily to weekly aggregation

PURPOSE:
  Derives weekly records from daily ones. Daily records are grouped by
  Ethiopian (year, month, week); a group with enough samples becomes one
  weekly record holding the sums.

RULES:
  - Week of month is min((day-1)/7+1, 4). Days 29 and 30 belong to week 4,
    so week 4 can hold up to nine daily records.
  - A group needs MinDailySamples records (default 5). Smaller groups are
    left alone; an existing weekly record for them is not removed.
  - Null performance or target counts as 0 in the sums.
  - The weekly record is dated at the earliest daily date of the group and
    upserted by (indicator, "weekly", date). Its verification flag is kept.
  - A week holds one weekly record. When an earlier daily date moves the
    week's date, the row at the old date is removed and its verification
    flag carries over to the new one.

ATOMICITY:
  All dates are converted before anything is written, so a calendar failure
  writes nothing. The writes of one recomputation share a transaction when
  the store supports it.

SCOPE:
  RollupScopeWeek (default) re-aggregates only the week touched by a daily
  write. RollupScopeFull rescans the indicator's whole daily history.
*/
package kpi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/ethiocal"
)

// DefaultMinDailySamples is the number of daily records a week needs.
const DefaultMinDailySamples = 5

// RollupScope selects what a daily write re-aggregates.
type RollupScope string

const (
	RollupScopeWeek RollupScope = "week"
	RollupScopeFull RollupScope = "full"
)

// ParseRollupScope accepts "week" and "full"; empty means week.
func ParseRollupScope(s string) (RollupScope, error) {
	switch RollupScope(s) {
	case "", RollupScopeWeek:
		return RollupScopeWeek, nil
	case RollupScopeFull:
		return RollupScopeFull, nil
	}
	return "", fmt.Errorf("unknown rollup scope %q", s)
}

// WeekGroup is the daily records of one Ethiopian week, oldest first.
type WeekGroup struct {
	Week    ethiocal.WeekKey
	Records []Record
}

// WeekRollup is a weekly record written by a recomputation.
type WeekRollup struct {
	Week    ethiocal.WeekKey
	Samples int
	Record  Record
	Created bool
}

// RollupResult reports what a recomputation did.
type RollupResult struct {
	IndicatorID IndicatorID
	Rolled      []WeekRollup
	// BelowThreshold counts groups with too few daily records.
	BelowThreshold int
}

// =============================================================================
// GROUPING
// =============================================================================

// GroupByWeek buckets daily records by Ethiopian week. Groups come back in
// chronological order. The first conversion failure aborts the grouping.
func GroupByWeek(conv ethiocal.Converter, records []Record) ([]WeekGroup, error) {
	byWeek := make(map[ethiocal.WeekKey][]Record)
	for _, r := range records {
		d, err := conv.ToEthiopian(r.Date.Day(), int(r.Date.Month()), r.Date.Year())
		if err != nil {
			return nil, &CalendarConversionError{Date: r.Date.Format(DateLayout), Err: err}
		}
		k := d.WeekKey()
		byWeek[k] = append(byWeek[k], r)
	}

	groups := make([]WeekGroup, 0, len(byWeek))
	for k, recs := range byWeek {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })
		groups = append(groups, WeekGroup{Week: k, Records: recs})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Week.Less(groups[j].Week) })
	return groups, nil
}

// SumRecords adds up performance and target, treating nulls as zero.
func SumRecords(records []Record) (performance, target decimal.Decimal) {
	performance, target = decimal.Zero, decimal.Zero
	for _, r := range records {
		if r.Performance.Valid {
			performance = performance.Add(r.Performance.Decimal)
		}
		if r.Target.Valid {
			target = target.Add(r.Target.Decimal)
		}
	}
	return performance, target
}

// =============================================================================
// RECOMPUTATION
// =============================================================================

// RecomputeWeeklyRollup rescans every daily record of the indicator.
func (e *Engine) RecomputeWeeklyRollup(ctx context.Context, indicatorID IndicatorID) (RollupResult, error) {
	if _, err := e.Store.GetIndicator(ctx, indicatorID); err != nil {
		return RollupResult{}, err
	}
	id := indicatorID
	daily, err := e.Store.ListRecords(ctx, RecordFilter{Granularity: GranularityDaily, IndicatorID: &id})
	if err != nil {
		return RollupResult{}, fmt.Errorf("list daily records: %w", err)
	}
	return e.rollup(ctx, indicatorID, daily)
}

// RecomputeWeek re-aggregates only the Ethiopian week containing date.
func (e *Engine) RecomputeWeek(ctx context.Context, indicatorID IndicatorID, date time.Time) (RollupResult, error) {
	d, err := e.toEthiopian(date)
	if err != nil {
		return RollupResult{}, err
	}
	return e.recomputeWeekKey(ctx, indicatorID, d.WeekKey())
}

func (e *Engine) recomputeWeekKey(ctx context.Context, indicatorID IndicatorID, week ethiocal.WeekKey) (RollupResult, error) {
	from, to, err := week.GregorianRange(e.calendar())
	if err != nil {
		return RollupResult{}, &CalendarConversionError{Date: week.String(), Err: err}
	}
	id := indicatorID
	daily, err := e.Store.ListRecords(ctx, RecordFilter{
		Granularity: GranularityDaily,
		IndicatorID: &id,
		From:        &from,
		To:          &to,
	})
	if err != nil {
		return RollupResult{}, fmt.Errorf("list daily records for week %s: %w", week, err)
	}
	return e.rollup(ctx, indicatorID, daily)
}

func (e *Engine) rollupAfterDaily(ctx context.Context, indicatorID IndicatorID, date time.Time) (RollupResult, error) {
	if e.RollupScope == RollupScopeFull {
		return e.RecomputeWeeklyRollup(ctx, indicatorID)
	}
	return e.RecomputeWeek(ctx, indicatorID, date)
}

func (e *Engine) rollup(ctx context.Context, indicatorID IndicatorID, daily []Record) (RollupResult, error) {
	result := RollupResult{IndicatorID: indicatorID}

	groups, err := GroupByWeek(e.calendar(), daily)
	if err != nil {
		e.log().Warn("weekly rollup unavailable",
			zap.String("indicator_id", string(indicatorID)), zap.Error(err))
		return result, err
	}

	threshold := e.minSamples()
	var eligible []WeekGroup
	for _, g := range groups {
		if len(g.Records) < threshold {
			result.BelowThreshold++
			continue
		}
		eligible = append(eligible, g)
	}
	if len(eligible) == 0 {
		return result, nil
	}

	type weekRange struct{ from, to time.Time }
	ranges := make([]weekRange, len(eligible))
	for i, g := range eligible {
		from, to, err := g.Week.GregorianRange(e.calendar())
		if err != nil {
			return result, &CalendarConversionError{Date: g.Week.String(), Err: err}
		}
		ranges[i] = weekRange{from: from, to: to}
	}

	err = e.withTx(ctx, func(s Store) error {
		rolled := make([]WeekRollup, 0, len(eligible))
		for i, g := range eligible {
			perf, target := SumRecords(g.Records)
			t := Round2(NullDecimal(target))
			values := RecordValues{
				Performance: Round2(NullDecimal(perf)),
				Target:      &t,
			}
			key := NewRecordKey(indicatorID, GranularityWeekly, Period{Date: g.Records[0].Date})

			id := indicatorID
			existing, err := s.ListRecords(ctx, RecordFilter{
				Granularity: GranularityWeekly,
				IndicatorID: &id,
				From:        &ranges[i].from,
				To:          &ranges[i].to,
			})
			if err != nil {
				return fmt.Errorf("list weekly records for %s: %w", g.Week, err)
			}
			var stale []Record
			for _, w := range existing {
				if !w.Date.Equal(key.Date) {
					stale = append(stale, w)
				}
			}
			if len(stale) > 0 && len(stale) == len(existing) {
				verified := stale[0].IsVerified
				values.IsVerified = &verified
			}

			rec, created, err := s.UpsertRecord(ctx, key, values)
			if err != nil {
				return fmt.Errorf("upsert weekly record for %s: %w", g.Week, err)
			}
			if len(stale) > 0 {
				ids := make([]RecordID, len(stale))
				for j, w := range stale {
					ids[j] = w.ID
				}
				if _, err := s.DeleteRecords(ctx, GranularityWeekly, ids); err != nil {
					return fmt.Errorf("remove superseded weekly records for %s: %w", g.Week, err)
				}
				e.log().Debug("weekly record re-dated",
					zap.String("indicator_id", string(indicatorID)),
					zap.String("week", g.Week.String()),
					zap.Int("removed", len(stale)))
			}
			rolled = append(rolled, WeekRollup{Week: g.Week, Samples: len(g.Records), Record: rec, Created: created})
		}
		result.Rolled = rolled
		return nil
	})
	if err != nil {
		return RollupResult{IndicatorID: indicatorID}, err
	}

	e.log().Debug("weekly rollup recomputed",
		zap.String("indicator_id", string(indicatorID)),
		zap.Int("weeks", len(result.Rolled)),
		zap.Int("below_threshold", result.BelowThreshold))
	return result, nil
}
