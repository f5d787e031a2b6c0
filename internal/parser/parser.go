package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoMatchingFormat = errors.New("no parser matches alert format")
	ErrMissingDirection = errors.New("alert direction not found")
	ErrMissingSymbol    = errors.New("alert symbol not found")
)

// FieldError reports a field whose value failed numeric coercion. A
// bad required field fails the whole parse instead of defaulting.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("parse field %s: bad value %q", e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Parser extracts a structured alert from one raw message format.
// Implementations are pure and safe for concurrent use.
type Parser interface {
	// CanParse is the cheap capability test used for format selection.
	CanParse(raw string) bool
	// Parse extracts the alert. It is called only after CanParse
	// returned true for the same input.
	Parse(raw string) (Extract, error)
}

// Extract is the format-independent result of a grammar before the
// factory stamps identity fields onto it.
type Extract struct {
	Symbol     string
	Price      float64
	Bull       bool
	StrategyID string
	MarketData map[string]float64
}

// parseAmount converts a price-like field, tolerating thousands
// separators and a leading currency symbol.
func parseAmount(field, s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimLeft(cleaned, "$€£¥ ")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, &FieldError{Field: field, Value: s, Err: err}
	}
	return v, nil
}
