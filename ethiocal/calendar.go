/*
Package ethiocal converts dates between the Gregorian and Ethiopian calendars.

PURPOSE:
  Weekly and daily KPI records are stored against a Gregorian date, while the
  dashboard reports them by Ethiopian year, month and week. This package is the
  single place that knows how the two calendars line up.

CALENDAR RULES:
  - 12 months of 30 days, then Pagume (month 13) with 5 days, 6 in a leap year
  - A year is leap when year % 4 == 3 (the year before the Gregorian leap year)
  - 1 Meskerem (new year) falls on 11 September, or 12 September before a
    Gregorian leap year

ALGORITHM:
  Both directions go through the Julian Day Number (JDN). The Ethiopian epoch
  (1 Meskerem 1 E.C.) is JDN 1723856.

SEE ALSO:
  - week.go: Ethiopian week-of-month bucketing and labels
  - kpi/rollup.go: Weekly rollup grouped by Ethiopian week
*/
package ethiocal

import (
	"errors"
	"fmt"
	"time"
)

const (
	// epochJDN is the Julian Day Number of 1 Meskerem 1 E.C.
	epochJDN = 1723856

	// unixEpochJDN is the Julian Day Number of 1970-01-01.
	unixEpochJDN = 2440588

	secondsPerDay = 86400

	// Pagume is the short thirteenth month.
	Pagume = 13
)

// ErrInvalidDate is returned when a date does not exist in its calendar or
// falls outside the supported range.
var ErrInvalidDate = errors.New("invalid calendar date")

// ConversionError carries the rejected input.
type ConversionError struct {
	Calendar string // "gregorian" or "ethiopian"
	Year     int
	Month    int
	Day      int
	Reason   string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s date %04d-%02d-%02d: %s",
		e.Calendar, e.Year, e.Month, e.Day, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return ErrInvalidDate
}

// =============================================================================
// TYPES
// =============================================================================

// EthDate is a date in the Ethiopian calendar.
type EthDate struct {
	Year  int
	Month int // 1-13
	Day   int // 1-30 (1-6 for Pagume)
}

// String renders the date as "YYYY-MM-DD".
func (d EthDate) String() string {
	return fmt.Sprintf("%d-%02d-%02d", d.Year, d.Month, d.Day)
}

// WeekKey returns the Ethiopian week bucket the date belongs to.
func (d EthDate) WeekKey() WeekKey {
	return WeekKey{Year: d.Year, Month: d.Month, Week: WeekOfMonth(d.Day)}
}

// Converter converts between calendars. The engine only depends on this
// interface so tests can substitute a failing converter.
type Converter interface {
	// ToEthiopian converts a Gregorian (day, month, year) triple.
	ToEthiopian(day, month, year int) (EthDate, error)
	// ToGregorian converts an Ethiopian date to a UTC midnight time.
	ToGregorian(d EthDate) (time.Time, error)
}

// Standard is the arithmetic converter used in production.
type Standard struct{}

var _ Converter = Standard{}

// ToEthiopian implements Converter.
func (Standard) ToEthiopian(day, month, year int) (EthDate, error) {
	return ToEthiopian(day, month, year)
}

// ToGregorian implements Converter.
func (Standard) ToGregorian(d EthDate) (time.Time, error) {
	return ToGregorian(d)
}

// =============================================================================
// CONVERSION
// =============================================================================

// ToEthiopian converts a Gregorian date given as (day, month, year).
func ToEthiopian(day, month, year int) (EthDate, error) {
	if year < 9 || year > 9999 {
		return EthDate{}, &ConversionError{Calendar: "gregorian", Year: year, Month: month, Day: day,
			Reason: "year out of range"}
	}
	if month < 1 || month > 12 {
		return EthDate{}, &ConversionError{Calendar: "gregorian", Year: year, Month: month, Day: day,
			Reason: "month out of range"}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return EthDate{}, &ConversionError{Calendar: "gregorian", Year: year, Month: month, Day: day,
			Reason: "day out of range"}
	}
	return fromJDN(gregorianJDN(t)), nil
}

// FromTime converts the calendar day of t (in its own location).
func FromTime(t time.Time) (EthDate, error) {
	if t.IsZero() {
		return EthDate{}, &ConversionError{Calendar: "gregorian", Reason: "zero date"}
	}
	return ToEthiopian(t.Day(), int(t.Month()), t.Year())
}

// ToGregorian converts an Ethiopian date to midnight UTC of the same day.
func ToGregorian(d EthDate) (time.Time, error) {
	if err := Validate(d); err != nil {
		return time.Time{}, err
	}
	jdn := epochJDN + 365 + 365*(d.Year-1) + d.Year/4 + 30*d.Month + d.Day - 31
	return time.Unix(int64(jdn-unixEpochJDN)*secondsPerDay, 0).UTC(), nil
}

// Validate reports whether d exists in the Ethiopian calendar.
func Validate(d EthDate) error {
	fail := func(reason string) error {
		return &ConversionError{Calendar: "ethiopian", Year: d.Year, Month: d.Month, Day: d.Day, Reason: reason}
	}
	switch {
	case d.Year < 1 || d.Year > 9991:
		return fail("year out of range")
	case d.Month < 1 || d.Month > Pagume:
		return fail("month out of range")
	case d.Day < 1 || d.Day > DaysInMonth(d.Year, d.Month):
		return fail("day out of range")
	}
	return nil
}

// IsLeapYear reports whether Pagume has six days in the given year.
func IsLeapYear(year int) bool {
	return year%4 == 3
}

// DaysInMonth returns the number of days in the Ethiopian month.
func DaysInMonth(year, month int) int {
	if month == Pagume {
		if IsLeapYear(year) {
			return 6
		}
		return 5
	}
	return 30
}

func gregorianJDN(t time.Time) int {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(midnight.Unix()/secondsPerDay) + unixEpochJDN
}

func fromJDN(jdn int) EthDate {
	offset := jdn - epochJDN
	r := offset % 1461
	n := r%365 + 365*(r/1460)
	year := 4*(offset/1461) + r/365 - r/1460
	return EthDate{Year: year, Month: n/30 + 1, Day: n%30 + 1}
}
