package domain

import "github.com/shopspring/decimal"

// PricedLine is a unit price and quantity pair fed to the pricing engine.
type PricedLine struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Totals captures the monetary results of pricing an order.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Snapshot freezes the promo code terms for storage on an order.
func (p PromoCode) Snapshot() *PromoSnapshot {
	snap := &PromoSnapshot{
		ID:            p.ID,
		Code:          p.Code,
		DiscountType:  p.DiscountType,
		DiscountValue: p.DiscountValue,
	}
	if p.MinimumPurchaseAmount != nil {
		minimum := *p.MinimumPurchaseAmount
		snap.MinimumPurchaseAmount = &minimum
	}
	return snap
}

// Snapshot copies the address fields for storage on an order.
func (a Address) Snapshot() *AddressSnapshot {
	return &AddressSnapshot{
		AddressID:     a.ID,
		Line1:         a.Line1,
		Line2:         a.Line2,
		City:          a.City,
		StateProvince: a.StateProvince,
		PostalCode:    a.PostalCode,
		CountryCode:   a.CountryCode,
		PhoneNumber:   a.PhoneNumber,
	}
}
