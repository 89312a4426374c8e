// Package money holds the exact decimal helpers used for prices, quantities and
// costs. Floats only appear at the exchange boundary and when rendering.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PricePlaces is the precision kept for stored average prices.
const PricePlaces = 8

var (
	ErrDivisionByZero = errors.New("money: division by zero")
	ErrInvalidNumber  = errors.New("money: invalid number")
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// Parse reads a decimal from its string form.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FromFloat converts an exchange-reported float. NaN and Inf are rejected.
func FromFloat(f float64) (decimal.Decimal, error) {
	if f != f || f > 1e300 || f < -1e300 {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	return decimal.NewFromFloat(f), nil
}

// Float is for display and wire encoding only.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func Add(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }

func Sub(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) }

func Mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }

// Div divides a by b, failing on a zero divisor instead of panicking.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.Div(b), nil
}

// Cmp returns -1, 0 or +1.
func Cmp(a, b decimal.Decimal) int { return a.Cmp(b) }

// Round rounds half away from zero to n decimal places.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Floor truncates toward negative infinity to a whole number.
func Floor(d decimal.Decimal) decimal.Decimal { return d.Floor() }

// Max returns the larger value.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Min returns the smaller value.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Positive reports whether d > 0.
func Positive(d decimal.Decimal) bool { return d.Sign() > 0 }
