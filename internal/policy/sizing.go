package policy

import (
	"errors"
	"fmt"

	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice  = errors.New("policy: price must be positive")
	ErrInvalidVolume = errors.New("policy: volume floor must be positive")
)

// MinimumUnits returns the smallest whole unit count whose notional value at
// price reaches floor. The result is always at least one.
func MinimumUnits(price, floor decimal.Decimal) (decimal.Decimal, error) {
	if !money.Positive(price) {
		return money.Zero, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if !money.Positive(floor) {
		return money.Zero, fmt.Errorf("%w: %s", ErrInvalidVolume, floor)
	}
	units := floor.DivRound(price, 16).Ceil()
	// DivRound can round a fraction just above an integer down onto it.
	if money.Mul(units, price).Cmp(floor) < 0 {
		units = units.Add(money.One)
	}
	return money.Max(units, money.One), nil
}
