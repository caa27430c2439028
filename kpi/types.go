/*
Package kpi provides the KPI time-series engine.

PURPOSE:
  Indicators publish values at five granularities. Annual, quarterly and
  monthly values hang off an Ethiopian fiscal year (a DataPoint); weekly and
  daily values hang off a Gregorian date. This package resolves where a value
  belongs, rolls daily values into weekly ones and compares a value with the
  same period in earlier years.

KEY CONCEPTS IN THIS FILE (types.go):
  - Granularity: annual, quarterly, monthly, weekly, daily
  - Characteristic: whether a rising value is good (inc) or bad (dec)
  - Indicator: the thing being measured
  - DataPoint, Quarter, Month: shared period containers
  - Record: one fact row, whatever its granularity

DESIGN PRINCIPLES:
  1. One record shape: all five fact tables map onto Record
  2. Precision: values use decimal.Decimal, nulls use decimal.NullDecimal
  3. Derived labels: year_GC and the Ethiopian date label are computed, never
     entered by hand

SEE ALSO:
  - period.go: natural keys and period labels
  - resolver.go: resolve-then-upsert
  - rollup.go: daily to weekly aggregation
  - comparison.go: year-over-year comparison
*/
package kpi

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type IndicatorID string
type CategoryID string
type TopicID string
type RecordID string

// =============================================================================
// GRANULARITY
// =============================================================================

// Granularity is the time resolution of a record.
type Granularity string

const (
	GranularityAnnual    Granularity = "annual"
	GranularityQuarterly Granularity = "quarterly"
	GranularityMonthly   Granularity = "monthly"
	GranularityWeekly    Granularity = "weekly"
	GranularityDaily     Granularity = "daily"
)

// Granularities lists every granularity, coarsest first.
var Granularities = []Granularity{
	GranularityAnnual,
	GranularityQuarterly,
	GranularityMonthly,
	GranularityWeekly,
	GranularityDaily,
}

// ParseGranularity accepts the canonical names plus the short forms used by
// import payloads ("year", "quarter", "month", "week", "day").
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "annual", "year", "yearly":
		return GranularityAnnual, nil
	case "quarterly", "quarter":
		return GranularityQuarterly, nil
	case "monthly", "month":
		return GranularityMonthly, nil
	case "weekly", "week":
		return GranularityWeekly, nil
	case "daily", "day":
		return GranularityDaily, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
}

// Valid reports whether g is one of the five granularities.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityAnnual, GranularityQuarterly, GranularityMonthly, GranularityWeekly, GranularityDaily:
		return true
	}
	return false
}

// FiscalYearKeyed reports whether records of this granularity belong to a DataPoint.
func (g Granularity) FiscalYearKeyed() bool {
	return g == GranularityAnnual || g == GranularityQuarterly || g == GranularityMonthly
}

// DateKeyed reports whether records of this granularity are keyed by a Gregorian date.
func (g Granularity) DateKeyed() bool {
	return g == GranularityWeekly || g == GranularityDaily
}

// =============================================================================
// INDICATOR
// =============================================================================

// Characteristic tells the comparison engine which direction is good.
type Characteristic string

const (
	CharacteristicIncreasing Characteristic = "inc"
	CharacteristicDecreasing Characteristic = "dec"
	CharacteristicConstant   Characteristic = "const"
	CharacteristicVolatile   Characteristic = "volatile"
)

// Frequency is how often an indicator is expected to publish.
type Frequency string

const (
	FrequencyMonthly  Frequency = "month"
	FrequencyQuarter  Frequency = "quarter"
	FrequencyBiannual Frequency = "biannual"
	FrequencyAnnual   Frequency = "annual"
)

type Indicator struct {
	ID              IndicatorID
	Code            string
	TitleENG        string
	TitleAMH        string
	ParentID        *IndicatorID
	CategoryIDs     []CategoryID
	Frequency       Frequency
	Characteristic  Characteristic
	MeasurementUnit string
	IsVerified      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Topic struct {
	ID        TopicID
	TitleENG  string
	TitleAMH  string
	Rank      int
	CreatedAt time.Time
}

type Category struct {
	ID        CategoryID
	Code      string
	NameENG   string
	NameAMH   string
	TopicID   *TopicID
	CreatedAt time.Time
}

// =============================================================================
// PERIOD CONTAINERS
// =============================================================================

// DataPoint is one Ethiopian fiscal year.
type DataPoint struct {
	ID        int64
	YearEC    int
	YearGC    string
	CreatedAt time.Time
}

// NewDataPoint builds a DataPoint with its Gregorian label derived.
func NewDataPoint(yearEC int) DataPoint {
	return DataPoint{YearEC: yearEC, YearGC: YearGC(yearEC)}
}

// YearGC returns the Gregorian span of an Ethiopian fiscal year, e.g. 2016 -> "2023/2024".
func YearGC(yearEC int) string {
	return fmt.Sprintf("%d/%d", yearEC+7, yearEC+8)
}

type Quarter struct {
	ID       int64
	Number   int
	TitleENG string
	TitleAMH string
}

type Month struct {
	ID       int64
	Number   int
	NameENG  string
	NameAMH  string
	IsFiscal bool
}

// =============================================================================
// RECORD
// =============================================================================

// Record is one fact row. Which period fields are meaningful depends on
// Granularity: YearEC (+Quarter or Month) for fiscal-year records, Date for
// weekly and daily records.
type Record struct {
	ID          RecordID
	IndicatorID IndicatorID
	Granularity Granularity
	YearEC      int
	Quarter     int
	Month       int
	Date        time.Time
	Performance decimal.NullDecimal
	Target      decimal.NullDecimal
	IsVerified  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the natural key of the record.
func (r Record) Key() RecordKey {
	return RecordKey{
		IndicatorID: r.IndicatorID,
		Granularity: r.Granularity,
		YearEC:      r.YearEC,
		Quarter:     r.Quarter,
		Month:       r.Month,
		Date:        r.Date,
	}.Normalize()
}

// RecordValues are the mutable fields of a record.
type RecordValues struct {
	Performance decimal.NullDecimal
	// Target is left untouched when nil.
	Target *decimal.NullDecimal
	// IsVerified is left untouched when nil. New records start unverified.
	IsVerified *bool
}

// Apply writes the values onto r.
func (v RecordValues) Apply(r *Record) {
	r.Performance = v.Performance
	if v.Target != nil {
		r.Target = *v.Target
	}
	if v.IsVerified != nil {
		r.IsVerified = *v.IsVerified
	}
}

// NullDecimal is shorthand for a valid decimal.NullDecimal.
func NullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Round2 rounds a nullable value to two decimal places, as stored.
func Round2(v decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return v
	}
	return NullDecimal(v.Decimal.Round(2))
}
