package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits used when an amount leaves the engine.
const Places = 2

// ErrInvalidAmount is returned when a string cannot be parsed as a monetary amount.
var ErrInvalidAmount = errors.New("invalid amount")

// Zero is the additive identity. Decimal values are immutable so sharing it is safe.
var Zero = decimal.Zero

// Parse reads a decimal amount. Surrounding whitespace and a leading currency sign are ignored.
func Parse(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "$")
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("empty value: %w", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q: %w", value, ErrInvalidAmount)
	}
	return d, nil
}

// ParseLenient is Parse for free-form operator input: empty, malformed or negative values yield zero.
func ParseLenient(value string) decimal.Decimal {
	d, err := Parse(value)
	if err != nil {
		return decimal.Zero
	}
	return NonNegative(d)
}

// MustParse panics on malformed input. Intended for constants and tests.
func MustParse(value string) decimal.Decimal {
	d, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return d
}

// NonNegative floors d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Round applies round-half-to-even at two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Places)
}

// String renders d rounded for display, always with two fractional digits.
func String(d decimal.Decimal) string {
	return Round(d).StringFixed(Places)
}

// Sum adds values exactly.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MinorUnits converts a rounded amount into integer cents.
func MinorUnits(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

// FromMinorUnits converts integer cents back into a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}
