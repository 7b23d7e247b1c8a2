package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPromotionRepositoryMissing indicates the promo code repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionInvalidInput signals a malformed promo code definition.
	ErrPromotionInvalidInput = errors.New("promotion service: invalid input")
	// ErrPromotionNotFound indicates no promo code exists for the provided id.
	ErrPromotionNotFound = errors.New("promotion service: promo code not found")
	// ErrPromotionNotEligible covers unknown, disabled, expired and exhausted codes.
	ErrPromotionNotEligible = errors.New("promotion service: promo code not eligible")
	// ErrPromotionBelowMinimum indicates the purchase amount is under the promo minimum.
	ErrPromotionBelowMinimum = errors.New("promotion service: purchase below promo minimum")
	// ErrPromotionConflict indicates a duplicate code or a lost race for the last use.
	ErrPromotionConflict = errors.New("promotion service: conflict")
	// ErrPromotionUnavailable indicates the backing store could not be reached.
	ErrPromotionUnavailable = errors.New("promotion service: unavailable")
)

// BelowMinimumError carries the minimum purchase amount a promo code requires.
type BelowMinimumError struct {
	Code    string
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("%s: %s requires a minimum purchase of %s", ErrPromotionBelowMinimum, e.Code, e.Minimum.StringFixed(2))
}

func (e *BelowMinimumError) Unwrap() error {
	return ErrPromotionBelowMinimum
}
