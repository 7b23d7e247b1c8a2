package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MinorUnitScale returns the number of decimal places used by the currency's smallest unit.
func MinorUnitScale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// ToMinorUnits converts a decimal amount into the processor's integer minor units,
// rounding half-up to the currency scale (USD 2 places, JPY 0).
func ToMinorUnits(amount decimal.Decimal, code string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("payments: negative amount %s", amount.String())
	}
	scale, err := MinorUnitScale(code)
	if err != nil {
		return 0, err
	}
	minor := amount.Round(scale).Shift(scale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("payments: amount %s not representable in %s", amount.String(), code)
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts processor minor units back to a decimal amount.
func FromMinorUnits(minor int64, code string) (decimal.Decimal, error) {
	scale, err := MinorUnitScale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -scale), nil
}
