package kpi

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseValue converts a submitted cell into a decimal. It accepts numbers,
// numeric strings and json.Number. A cell holding more than one number
// ("10, 20", "10 20", "10;20") is rejected rather than guessed at.
func ParseValue(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, &InvalidValueError{Input: "", Reason: "empty"}
	case decimal.Decimal:
		return x, nil
	case float64:
		return fromFloat(x)
	case float32:
		return fromFloat(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt(int64(x)), nil
	case json.Number:
		return parseNumeric(string(x))
	case string:
		return parseNumeric(x)
	}
	return decimal.Zero, &InvalidValueError{Input: fmt.Sprintf("%v", v), Reason: fmt.Sprintf("unsupported type %T", v)}
}

// IsEmptyValue reports whether a cell was left blank. Batch writes skip
// blank cells instead of failing them.
func IsEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case json.Number:
		return strings.TrimSpace(string(x)) == ""
	}
	return false
}

// ParseOptionalValue is ParseValue with blank cells mapped to a null value.
func ParseOptionalValue(v any) (decimal.NullDecimal, error) {
	if IsEmptyValue(v) {
		return decimal.NullDecimal{}, nil
	}
	d, err := ParseValue(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return NullDecimal(d), nil
}

func fromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, &InvalidValueError{Input: fmt.Sprintf("%v", f), Reason: "not a finite number"}
	}
	return decimal.NewFromFloat(f), nil
}

func parseNumeric(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, &InvalidValueError{Input: raw, Reason: "empty"}
	}
	if strings.ContainsAny(s, ",; \t\n") {
		return decimal.Zero, &InvalidValueError{Input: raw, Reason: "multiple values in one cell"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &InvalidValueError{Input: raw, Reason: "not a number"}
	}
	return d, nil
}
