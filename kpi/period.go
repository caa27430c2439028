package kpi

import (
	"fmt"
	"time"

	"github.com/ethstat/kpi-dashboard/ethiocal"
)

// =============================================================================
// PERIOD - Where a value belongs in time
// =============================================================================

// Period describes a submitted period. Which fields are read depends on the
// granularity:
//
//	annual:    YearEC
//	quarterly: YearEC, Quarter (1-4)
//	monthly:   YearEC, Month (1-12)
//	weekly:    Date
//	daily:     Date
type Period struct {
	YearEC  int
	Quarter int
	Month   int
	Date    time.Time
}

// Validate checks that the fields required by g are present.
// A quarter or month number below 1 counts as missing.
// Whether a quarter or month actually exists is decided by the store.
func (p Period) Validate(g Granularity) error {
	if !g.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
	if g.FiscalYearKeyed() && p.YearEC <= 0 {
		return fmt.Errorf("%w: %s record requires an Ethiopian year", ErrInvalidPeriod, g)
	}
	if g == GranularityQuarterly && p.Quarter < 1 {
		return fmt.Errorf("%w: quarterly record requires a quarter number", ErrInvalidPeriod)
	}
	if g == GranularityMonthly && p.Month < 1 {
		return fmt.Errorf("%w: monthly record requires a month number", ErrInvalidPeriod)
	}
	if g.DateKeyed() && p.Date.IsZero() {
		return fmt.Errorf("%w: %s record requires a date", ErrInvalidPeriod, g)
	}
	return nil
}

// =============================================================================
// RECORD KEY - Natural key of a fact row
// =============================================================================

// RecordKey is the natural key a record is upserted by.
type RecordKey struct {
	IndicatorID IndicatorID
	Granularity Granularity
	YearEC      int
	Quarter     int
	Month       int
	Date        time.Time
}

// NewRecordKey builds the key for a submission. Fields that don't apply to
// the granularity are dropped.
func NewRecordKey(indicatorID IndicatorID, g Granularity, p Period) RecordKey {
	return RecordKey{
		IndicatorID: indicatorID,
		Granularity: g,
		YearEC:      p.YearEC,
		Quarter:     p.Quarter,
		Month:       p.Month,
		Date:        p.Date,
	}.Normalize()
}

// Normalize zeroes the fields that are not part of the key for its
// granularity and truncates dates to the calendar day in UTC.
func (k RecordKey) Normalize() RecordKey {
	switch k.Granularity {
	case GranularityAnnual:
		k.Quarter, k.Month, k.Date = 0, 0, time.Time{}
	case GranularityQuarterly:
		k.Month, k.Date = 0, time.Time{}
	case GranularityMonthly:
		k.Quarter, k.Date = 0, time.Time{}
	case GranularityWeekly, GranularityDaily:
		k.YearEC, k.Quarter, k.Month = 0, 0, 0
		k.Date = DayOf(k.Date)
	}
	return k
}

// YearsBack returns the same period shifted n Ethiopian years earlier.
// Only meaningful for fiscal-year keyed granularities.
func (k RecordKey) YearsBack(n int) RecordKey {
	k.YearEC -= n
	return k
}

// String is used in logs and error messages.
func (k RecordKey) String() string {
	switch k.Granularity {
	case GranularityQuarterly:
		return fmt.Sprintf("%s/%s/%d-Q%d", k.IndicatorID, k.Granularity, k.YearEC, k.Quarter)
	case GranularityMonthly:
		return fmt.Sprintf("%s/%s/%d-%02d", k.IndicatorID, k.Granularity, k.YearEC, k.Month)
	case GranularityWeekly, GranularityDaily:
		return fmt.Sprintf("%s/%s/%s", k.IndicatorID, k.Granularity, k.Date.Format(DateLayout))
	}
	return fmt.Sprintf("%s/%s/%d", k.IndicatorID, k.Granularity, k.YearEC)
}

// DateLayout is the wire and storage format for record dates.
const DateLayout = "2006-01-02"

// DayOf returns midnight UTC of t's calendar day.
func DayOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// LABELS
// =============================================================================

// PeriodLabel renders the period of a record for display:
//
//	annual    "2016"
//	quarterly "2016-Q2"
//	monthly   "2016-03"
//	weekly    "2016-3-2"   (Ethiopian year-month-week)
//	daily     "2016-03-08" (Ethiopian date)
func PeriodLabel(conv ethiocal.Converter, r Record) (string, error) {
	switch r.Granularity {
	case GranularityAnnual:
		return fmt.Sprintf("%d", r.YearEC), nil
	case GranularityQuarterly:
		return fmt.Sprintf("%d-Q%d", r.YearEC, r.Quarter), nil
	case GranularityMonthly:
		return fmt.Sprintf("%d-%02d", r.YearEC, r.Month), nil
	case GranularityWeekly, GranularityDaily:
		return EthioDate(conv, r)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, r.Granularity)
}

// EthioDate derives the Ethiopian label of a weekly or daily record. It is
// computed on every read and never stored.
func EthioDate(conv ethiocal.Converter, r Record) (string, error) {
	var (
		label string
		err   error
	)
	switch r.Granularity {
	case GranularityWeekly:
		label, err = ethiocal.WeekLabel(conv, r.Date)
	case GranularityDaily:
		label, err = ethiocal.DayLabel(conv, r.Date)
	default:
		return "", fmt.Errorf("%w: %s records have no Ethiopian date", ErrInvalidGranularity, r.Granularity)
	}
	if err != nil {
		return "", &CalendarConversionError{Date: r.Date.Format(DateLayout), Err: err}
	}
	return label, nil
}
