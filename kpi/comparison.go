/*
comparison.go - Year-over-year comparison

PURPOSE:
  Compares a fiscal-year keyed record with the same period N years earlier:
  the same quarter for quarterly records, the same month for monthly ones.

RESULT:
  change  = current - historical
  percent = (current - historical) / historical * 100

  Both are rounded to one decimal place (half to even). For indicators whose
  characteristic is "dec" a fall is an improvement, so both signs are
  flipped. Every other characteristic keeps the raw sign.

UNAVAILABLE:
  There is no comparison (nil, no error) when the historical record is
  missing, when either performance is null, or when the historical
  performance is zero.
*/
package kpi

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultLookbacks are the comparisons shown next to every record.
var DefaultLookbacks = []int{1, 5, 10}

var hundred = decimal.NewFromInt(100)

// Comparison is the difference between a record and its historical sibling.
type Comparison struct {
	YearsBack int
	Change    decimal.Decimal
	Percent   decimal.Decimal
}

// CompareValues applies the comparison formula. ok is false when no
// comparison is possible.
func CompareValues(ch Characteristic, current, historical decimal.NullDecimal) (change, percent decimal.Decimal, ok bool) {
	if !current.Valid || !historical.Valid || historical.Decimal.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	change = current.Decimal.Sub(historical.Decimal)
	percent = change.Div(historical.Decimal).Mul(hundred)
	if ch == CharacteristicDecreasing {
		change, percent = change.Neg(), percent.Neg()
	}
	return change.RoundBank(1), percent.RoundBank(1), true
}

// Compare compares rec with the same period yearsBack years earlier.
func (e *Engine) Compare(ctx context.Context, rec Record, yearsBack int) (*Comparison, error) {
	if !rec.Granularity.FiscalYearKeyed() {
		return nil, fmt.Errorf("%w: %s records have no year-over-year comparison", ErrInvalidGranularity, rec.Granularity)
	}
	if yearsBack <= 0 {
		return nil, fmt.Errorf("%w: years back must be positive, got %d", ErrInvalidPeriod, yearsBack)
	}
	ind, err := e.Store.GetIndicator(ctx, rec.IndicatorID)
	if err != nil {
		return nil, err
	}
	return e.compareWith(ctx, ind.Characteristic, rec, yearsBack)
}

// CompareByID loads a record and compares it.
func (e *Engine) CompareByID(ctx context.Context, g Granularity, id RecordID, yearsBack int) (*Comparison, error) {
	rec, err := e.Store.GetRecord(ctx, g, id)
	if err != nil {
		return nil, err
	}
	return e.Compare(ctx, *rec, yearsBack)
}

// CompareAll returns the comparison for each of DefaultLookbacks, keyed by
// years back. Unavailable comparisons map to nil.
func (e *Engine) CompareAll(ctx context.Context, rec Record) (map[int]*Comparison, error) {
	if !rec.Granularity.FiscalYearKeyed() {
		return nil, fmt.Errorf("%w: %s records have no year-over-year comparison", ErrInvalidGranularity, rec.Granularity)
	}
	ind, err := e.Store.GetIndicator(ctx, rec.IndicatorID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]*Comparison, len(DefaultLookbacks))
	for _, n := range DefaultLookbacks {
		c, err := e.compareWith(ctx, ind.Characteristic, rec, n)
		if err != nil {
			return nil, err
		}
		out[n] = c
	}
	return out, nil
}

func (e *Engine) compareWith(ctx context.Context, ch Characteristic, rec Record, yearsBack int) (*Comparison, error) {
	sibling, err := e.Store.FindRecord(ctx, rec.Key().YearsBack(yearsBack))
	if err != nil {
		return nil, fmt.Errorf("find %d-year sibling: %w", yearsBack, err)
	}
	if sibling == nil {
		return nil, nil
	}
	change, percent, ok := CompareValues(ch, rec.Performance, sibling.Performance)
	if !ok {
		return nil, nil
	}
	return &Comparison{YearsBack: yearsBack, Change: change, Percent: percent}, nil
}
