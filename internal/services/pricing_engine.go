package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
)

// ErrPricingInvalidInput signals bad pricing input such as negative prices or quantities.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

const defaultCurrencyScale int32 = 2

var hundred = decimal.NewFromInt(100)

// PricingEngine computes order totals. It is pure: identical input yields identical output.
type PricingEngine struct {
	scale int32
}

type PricingEngineDeps struct {
	// Scale is the number of decimal places discounts round to. Defaults to 2.
	Scale int32
}

func NewPricingEngine(deps PricingEngineDeps) *PricingEngine {
	scale := deps.Scale
	if scale <= 0 {
		scale = defaultCurrencyScale
	}
	return &PricingEngine{scale: scale}
}

// ComputeTotals sums the lines and applies the promo discount, if any.
//
// Percentage promos store DiscountValue as 0..100 and are converted to a fraction here only.
// The discount never exceeds the subtotal and the total never goes below zero.
func (e *PricingEngine) ComputeTotals(lines []PricedLine, promo *PromoCode) (Totals, error) {
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 0 {
			return Totals{}, fmt.Errorf("%w: quantity for %s must not be negative", ErrPricingInvalidInput, line.ProductID)
		}
		if line.UnitPrice.IsNegative() {
			return Totals{}, fmt.Errorf("%w: unit price for %s must not be negative", ErrPricingInvalidInput, line.ProductID)
		}
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	discount, err := e.discount(subtotal, promo)
	if err != nil {
		return Totals{}, err
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Total:    total,
	}, nil
}

func (e *PricingEngine) discount(subtotal decimal.Decimal, promo *PromoCode) (decimal.Decimal, error) {
	if promo == nil {
		return decimal.Zero, nil
	}
	value := promo.DiscountValue
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: discount value must not be negative", ErrPricingInvalidInput)
	}

	var discount decimal.Decimal
	switch domain.DiscountType(strings.ToUpper(string(promo.DiscountType))) {
	case domain.DiscountTypePercentage:
		if value.GreaterThan(hundred) {
			return decimal.Zero, fmt.Errorf("%w: percentage must be between 0 and 100", ErrPricingInvalidInput)
		}
		discount = subtotal.Mul(value).Div(hundred).Round(e.scale)
	case domain.DiscountTypeFixed:
		discount = value
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported discount type %q", ErrPricingInvalidInput, promo.DiscountType)
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	return discount, nil
}
