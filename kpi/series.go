package kpi

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SeriesOptions shapes a time-series read.
type SeriesOptions struct {
	// Limit keeps only the most recent N points. Zero keeps everything.
	Limit int
	// Descending returns the newest point first.
	Descending bool
	// VerifiedOnly hides records that are still awaiting approval.
	VerifiedOnly bool
	// LatestYearOnly keeps only the most recent Ethiopian year of a
	// fiscal-year keyed series.
	LatestYearOnly bool
}

// SeriesPoint is a record with its display labels.
type SeriesPoint struct {
	Record
	Label string
	// YearGC is set for fiscal-year keyed records.
	YearGC string
	// EthioDate is set for weekly and daily records.
	EthioDate string
}

// Series returns the records of one indicator at one granularity with their
// period labels.
func (e *Engine) Series(ctx context.Context, indicatorID IndicatorID, g Granularity, opts SeriesOptions) ([]SeriesPoint, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
	if _, err := e.Store.GetIndicator(ctx, indicatorID); err != nil {
		return nil, err
	}
	return e.series(ctx, indicatorID, g, opts)
}

func (e *Engine) series(ctx context.Context, indicatorID IndicatorID, g Granularity, opts SeriesOptions) ([]SeriesPoint, error) {
	id := indicatorID
	filter := RecordFilter{Granularity: g, IndicatorID: &id}
	if opts.VerifiedOnly {
		verified := true
		filter.Verified = &verified
	}
	records, err := e.Store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", g, err)
	}

	if opts.LatestYearOnly && g.FiscalYearKeyed() && len(records) > 0 {
		latest := records[len(records)-1].YearEC
		start := len(records)
		for start > 0 && records[start-1].YearEC == latest {
			start--
		}
		records = records[start:]
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[len(records)-opts.Limit:]
	}

	points := make([]SeriesPoint, len(records))
	for i, r := range records {
		p, err := e.point(r)
		if err != nil {
			return nil, err
		}
		idx := i
		if opts.Descending {
			idx = len(records) - 1 - i
		}
		points[idx] = p
	}
	return points, nil
}

func (e *Engine) point(r Record) (SeriesPoint, error) {
	label, err := PeriodLabel(e.calendar(), r)
	if err != nil {
		return SeriesPoint{}, err
	}
	p := SeriesPoint{Record: r, Label: label}
	if r.Granularity.FiscalYearKeyed() {
		p.YearGC = YearGC(r.YearEC)
	} else {
		p.EthioDate = label
	}
	return p, nil
}

// Point labels a single record.
func (e *Engine) Point(r Record) (SeriesPoint, error) {
	return e.point(r)
}

// =============================================================================
// OVERVIEW - Every granularity of one indicator
// =============================================================================

// AnnualOverviewYears is how many recent years the overview shows.
const AnnualOverviewYears = 10

// Overview is what the dashboard shows for one indicator.
type Overview struct {
	Indicator    Indicator
	Annual       []SeriesPoint
	LatestAnnual *SeriesPoint
	Quarterly    []SeriesPoint
	Monthly      []SeriesPoint
	Weekly       []SeriesPoint
	Daily        []SeriesPoint
}

// Overview reads all five series of an indicator concurrently:
//
//	annual:    last 10 years, oldest first
//	quarterly: the most recent year
//	monthly:   everything, oldest first
//	weekly:    everything, newest first
//	daily:     everything, newest first
func (e *Engine) Overview(ctx context.Context, indicatorID IndicatorID, verifiedOnly bool) (*Overview, error) {
	ind, err := e.Store.GetIndicator(ctx, indicatorID)
	if err != nil {
		return nil, err
	}
	out := &Overview{Indicator: *ind}

	g, gctx := errgroup.WithContext(ctx)
	read := func(dst *[]SeriesPoint, gran Granularity, opts SeriesOptions) {
		opts.VerifiedOnly = verifiedOnly
		g.Go(func() error {
			points, err := e.series(gctx, indicatorID, gran, opts)
			if err != nil {
				return err
			}
			*dst = points
			return nil
		})
	}
	read(&out.Annual, GranularityAnnual, SeriesOptions{Limit: AnnualOverviewYears})
	read(&out.Quarterly, GranularityQuarterly, SeriesOptions{LatestYearOnly: true})
	read(&out.Monthly, GranularityMonthly, SeriesOptions{})
	read(&out.Weekly, GranularityWeekly, SeriesOptions{Descending: true})
	read(&out.Daily, GranularityDaily, SeriesOptions{Descending: true})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if n := len(out.Annual); n > 0 {
		latest := out.Annual[n-1]
		out.LatestAnnual = &latest
	}
	return out, nil
}
