// Package money converts between decimal amounts and stored minor units.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every currency.
const Scale = 2

// MaxMinor is the largest absolute amount, in minor units, a single
// transaction or line item may carry.
const MaxMinor int64 = 1_000_000_000_000_000

// MaxBalanceMinor bounds the absolute balance of an account in minor units.
// It leaves headroom below the int64 limit for any single balance delta.
const MaxBalanceMinor int64 = 1_000_000_000_000_000_000

var (
	// ErrPrecision is returned when an amount has more fractional digits than Scale.
	ErrPrecision = errors.New("amount has too many decimal places")

	// ErrOutOfRange is returned when an amount exceeds MaxMinor.
	ErrOutOfRange = errors.New("amount out of range")
)

// ToMinor converts d to minor units. It rejects amounts that would lose
// precision instead of rounding them.
func ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(Scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	if shifted.Abs().GreaterThan(decimal.NewFromInt(MaxMinor)) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return shifted.IntPart(), nil
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}
