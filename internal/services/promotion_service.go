package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const promoCodeIDPrefix = "prm_"

var promoCodePattern = regexp.MustCompile(`^[A-Z0-9]{8,12}$`)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	PromoCodes  repositories.PromoCodeRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type promotionService struct {
	repo   repositories.PromoCodeRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewPromotionService wires a PromotionService backed by the provided repository.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.PromoCodes == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &promotionService{
		repo:   deps.PromoCodes,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Validate looks up the code and checks status, expiration, usage and minimum purchase.
// The minimum is only checked when purchaseAmount is supplied.
func (s *promotionService) Validate(ctx context.Context, code string, purchaseAmount *decimal.Decimal) (PromoCode, error) {
	normalized := normalizePromoCode(code)
	if normalized == "" {
		return PromoCode{}, fmt.Errorf("%w: code is required", ErrPromotionNotEligible)
	}

	promo, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if isRepoNotFound(err) {
			return PromoCode{}, fmt.Errorf("%w: %s does not exist", ErrPromotionNotEligible, normalized)
		}
		return PromoCode{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	switch {
	case promo.Status != domain.PromoCodeStatusActive:
		return PromoCode{}, fmt.Errorf("%w: %s is disabled", ErrPromotionNotEligible, normalized)
	case promo.ExpirationDate != nil && !now.Before(*promo.ExpirationDate):
		return PromoCode{}, fmt.Errorf("%w: %s has expired", ErrPromotionNotEligible, normalized)
	case promo.UsageLimit != nil && promo.UsageCount >= *promo.UsageLimit:
		return PromoCode{}, fmt.Errorf("%w: %s reached its usage limit", ErrPromotionNotEligible, normalized)
	}

	if promo.MinimumPurchaseAmount != nil && purchaseAmount != nil && purchaseAmount.LessThan(*promo.MinimumPurchaseAmount) {
		return PromoCode{}, &BelowMinimumError{Code: promo.Code, Minimum: *promo.MinimumPurchaseAmount}
	}
	return promo, nil
}

func (s *promotionService) Create(ctx context.Context, cmd CreatePromoCodeCommand) (PromoCode, error) {
	now := s.clock()
	promo := PromoCode{
		ID:                    promoCodeIDPrefix + s.newID(),
		Code:                  normalizePromoCode(cmd.Code),
		DiscountType:          domain.DiscountType(strings.ToUpper(strings.TrimSpace(string(cmd.DiscountType)))),
		DiscountValue:         cmd.DiscountValue,
		ExpirationDate:        utcTimePtr(cmd.ExpirationDate),
		UsageLimit:            cmd.UsageLimit,
		MinimumPurchaseAmount: cmd.MinimumPurchaseAmount,
		Status:                domain.PromoCodeStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if !promoCodePattern.MatchString(promo.Code) {
		return PromoCode{}, fmt.Errorf("%w: code must be 8 to 12 upper case letters or digits", ErrPromotionInvalidInput)
	}
	switch promo.DiscountType {
	case domain.DiscountTypePercentage, domain.DiscountTypeFixed:
	default:
		return PromoCode{}, fmt.Errorf("%w: discount type must be PERCENTAGE or FIXED", ErrPromotionInvalidInput)
	}
	if promo.DiscountValue.IsNegative() {
		return PromoCode{}, fmt.Errorf("%w: discount value must not be negative", ErrPromotionInvalidInput)
	}
	if !promo.DiscountValue.Equal(promo.DiscountValue.Round(2)) {
		return PromoCode{}, fmt.Errorf("%w: discount value allows at most 2 decimal places", ErrPromotionInvalidInput)
	}
	if promo.DiscountType == domain.DiscountTypePercentage && promo.DiscountValue.GreaterThan(hundred) {
		return PromoCode{}, fmt.Errorf("%w: percentage discount must not exceed 100", ErrPromotionInvalidInput)
	}
	if promo.MinimumPurchaseAmount != nil && promo.MinimumPurchaseAmount.IsNegative() {
		return PromoCode{}, fmt.Errorf("%w: minimum purchase amount must not be negative", ErrPromotionInvalidInput)
	}
	if promo.ExpirationDate != nil && !promo.ExpirationDate.After(now) {
		return PromoCode{}, fmt.Errorf("%w: expiration date must be in the future", ErrPromotionInvalidInput)
	}
	if err := validatePromoLimits(promo); err != nil {
		return PromoCode{}, err
	}

	if err := s.repo.Insert(ctx, promo); err != nil {
		return PromoCode{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "promotion.created", map[string]any{
		"promoCodeId": promo.ID,
		"code":        promo.Code,
		"type":        string(promo.DiscountType),
	})
	return promo, nil
}

// Update changes expiration, usage limit and status only.
func (s *promotionService) Update(ctx context.Context, cmd UpdatePromoCodeCommand) (PromoCode, error) {
	id := strings.TrimSpace(cmd.PromoCodeID)
	if id == "" {
		return PromoCode{}, fmt.Errorf("%w: promo code id is required", ErrPromotionInvalidInput)
	}
	promo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return PromoCode{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	if cmd.ClearExpiration {
		promo.ExpirationDate = nil
	} else if cmd.ExpirationDate != nil {
		promo.ExpirationDate = utcTimePtr(cmd.ExpirationDate)
		if promo.UsageCount > 0 && !promo.ExpirationDate.After(now) {
			return PromoCode{}, fmt.Errorf("%w: expiration of a used promo code cannot move into the past", ErrPromotionInvalidInput)
		}
	}
	if cmd.ClearUsageLimit {
		promo.UsageLimit = nil
	} else if cmd.UsageLimit != nil {
		limit := *cmd.UsageLimit
		if limit < promo.UsageCount {
			return PromoCode{}, fmt.Errorf("%w: usage limit %d is below current usage %d", ErrPromotionInvalidInput, limit, promo.UsageCount)
		}
		promo.UsageLimit = &limit
	}
	if cmd.Status != nil {
		switch status := domain.PromoCodeStatus(strings.ToUpper(string(*cmd.Status))); status {
		case domain.PromoCodeStatusActive, domain.PromoCodeStatusDisabled:
			promo.Status = status
		default:
			return PromoCode{}, fmt.Errorf("%w: unsupported status %q", ErrPromotionInvalidInput, *cmd.Status)
		}
	}
	if err := validatePromoLimits(promo); err != nil {
		return PromoCode{}, err
	}

	promo.UpdatedAt = now
	if err := s.repo.Update(ctx, promo); err != nil {
		return PromoCode{}, s.mapRepositoryError(err)
	}
	return promo, nil
}

func (s *promotionService) Disable(ctx context.Context, promoID string) (PromoCode, error) {
	status := domain.PromoCodeStatusDisabled
	return s.Update(ctx, UpdatePromoCodeCommand{PromoCodeID: promoID, Status: &status})
}

func (s *promotionService) Get(ctx context.Context, promoID string) (PromoCode, error) {
	id := strings.TrimSpace(promoID)
	if id == "" {
		return PromoCode{}, fmt.Errorf("%w: promo code id is required", ErrPromotionInvalidInput)
	}
	promo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return PromoCode{}, s.mapRepositoryError(err)
	}
	return promo, nil
}

func (s *promotionService) List(ctx context.Context, filter PromoCodeListFilter) (domain.CursorPage[PromoCode], error) {
	page, err := s.repo.List(ctx, repositories.PromoCodeListFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[PromoCode]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// IncrementUsage consumes one use inside the order transaction. Losing the race for the
// last use is a conflict so the caller's transaction rolls back.
func (s *promotionService) IncrementUsage(ctx context.Context, tx repositories.Tx, promoID string) error {
	ok, err := tx.PromoCodes().IncrementUsage(ctx, promoID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if !ok {
		return fmt.Errorf("%w: promo code %s has no uses left", ErrPromotionConflict, promoID)
	}
	return nil
}

// ReleaseUsage returns one use of the promo recorded on an order. It never goes below zero.
func (s *promotionService) ReleaseUsage(ctx context.Context, tx repositories.Tx, snapshot *PromoSnapshot) error {
	if snapshot == nil || strings.TrimSpace(snapshot.ID) == "" {
		return nil
	}
	ok, err := tx.PromoCodes().DecrementUsage(ctx, snapshot.ID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if !ok {
		s.logger(ctx, "promotion.usage.release_skipped", map[string]any{
			"promoCodeId": snapshot.ID,
			"code":        snapshot.Code,
		})
	}
	return nil
}

func (s *promotionService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPromotionNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPromotionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
		}
	}
	return err
}

func validatePromoLimits(promo PromoCode) error {
	if promo.ExpirationDate == nil && promo.UsageLimit == nil {
		return fmt.Errorf("%w: an expiration date or a usage limit is required", ErrPromotionInvalidInput)
	}
	if promo.UsageLimit != nil && *promo.UsageLimit < 1 {
		return fmt.Errorf("%w: usage limit must be at least 1", ErrPromotionInvalidInput)
	}
	return nil
}

func normalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func utcTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
