/*
errors.go - Centralized error types for the KPI engine

PURPOSE:
  All error types in one place. The API layer maps the sentinels to HTTP
  status codes; everything else wraps them with context.

ERROR CATEGORIES:
  1. Lookup errors - indicator, record or period container missing
  2. Input errors - bad values, bad periods, bad granularities
  3. Calendar errors - a date the converter could not handle

USAGE:
    if errors.Is(err, kpi.ErrPeriodNotFound) {
        // reference data has not been seeded
    }

SEE ALSO:
  - resolver.go: returns most of these
  - api/errors.go: maps them to HTTP status codes
*/
package kpi

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIndicatorNotFound is returned when a referenced indicator doesn't exist.
	ErrIndicatorNotFound = errors.New("indicator not found")

	// ErrRecordNotFound is returned when a record id doesn't exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrCategoryNotFound is returned when a referenced category doesn't exist.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrPeriodNotFound is returned when a quarter or month reference row is missing.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrInvalidValue is returned for non-numeric or multi-valued input.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidPeriod is returned when the period descriptor doesn't fit the granularity.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidGranularity is returned for an unknown or unsupported granularity.
	ErrInvalidGranularity = errors.New("invalid granularity")

	// ErrCalendarConversion is returned when a date cannot be converted.
	ErrCalendarConversion = errors.New("calendar conversion failed")

	// ErrDuplicateCode is returned when an indicator or category code is taken.
	ErrDuplicateCode = errors.New("duplicate code")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodNotFoundError names the missing reference row.
type PeriodNotFoundError struct {
	Kind   string // "quarter" or "month"
	Number int
}

func (e *PeriodNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.Number)
}

func (e *PeriodNotFoundError) Unwrap() error {
	return ErrPeriodNotFound
}

// InvalidValueError describes why a submitted value was rejected.
type InvalidValueError struct {
	Input  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q: %s", e.Input, e.Reason)
}

func (e *InvalidValueError) Unwrap() error {
	return ErrInvalidValue
}

// CalendarConversionError wraps a converter failure with the offending date.
type CalendarConversionError struct {
	Date string
	Err  error
}

func (e *CalendarConversionError) Error() string {
	return fmt.Sprintf("calendar conversion failed for %s: %v", e.Date, e.Err)
}

func (e *CalendarConversionError) Unwrap() []error {
	return []error{ErrCalendarConversion, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidGranularity) ||
		errors.Is(err, ErrCalendarConversion) ||
		errors.Is(err, ErrDuplicateCode)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIndicatorNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrPeriodNotFound)
}
