package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
	"github.com/storefront/api/internal/repositories"
)

type promoCodeRepository struct {
	db *gorm.DB
}

func (r promoCodeRepository) Insert(ctx context.Context, promo domain.PromoCode) error {
	model := promoFromDomain(promo)
	return sqldb.WrapError("promo_codes.insert", r.db.WithContext(ctx).Create(&model).Error)
}

// Update writes the mutable columns only. Code, discount terms and usage count are immutable here.
func (r promoCodeRepository) Update(ctx context.Context, promo domain.PromoCode) error {
	model := promoFromDomain(promo)
	res := r.db.WithContext(ctx).
		Model(&promoCodeModel{ID: promo.ID}).
		Select("expiration_date", "usage_limit", "status", "updated_at").
		Updates(&model)
	if res.Error != nil {
		return sqldb.WrapError("promo_codes.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound("promo_codes.update")
	}
	return nil
}

func (r promoCodeRepository) FindByID(ctx context.Context, promoID string) (domain.PromoCode, error) {
	var model promoCodeModel
	if err := r.db.WithContext(ctx).Where("id = ?", promoID).First(&model).Error; err != nil {
		return domain.PromoCode{}, sqldb.WrapError("promo_codes.find", err)
	}
	return model.toDomain(), nil
}

func (r promoCodeRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	var model promoCodeModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		return domain.PromoCode{}, sqldb.WrapError("promo_codes.find_by_code", err)
	}
	return model.toDomain(), nil
}

func (r promoCodeRepository) List(ctx context.Context, filter repositories.PromoCodeListFilter) (domain.CursorPage[domain.PromoCode], error) {
	query := r.db.WithContext(ctx).Model(&promoCodeModel{})
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("promo_codes.status IN ?", statuses)
	}
	query, size, err := keysetPage(query, "promo_codes", filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.PromoCode]{}, err
	}

	var models []promoCodeModel
	if err := query.Find(&models).Error; err != nil {
		return domain.CursorPage[domain.PromoCode]{}, sqldb.WrapError("promo_codes.list", err)
	}
	hasMore := len(models) > size
	if hasMore {
		models = models[:size]
	}
	page := domain.CursorPage[domain.PromoCode]{Items: make([]domain.PromoCode, 0, len(models))}
	for _, model := range models {
		page.Items = append(page.Items, model.toDomain())
	}
	if hasMore {
		last := models[len(models)-1]
		page.NextPageToken = nextPageToken(true, last.CreatedAt, last.ID)
	}
	return page, nil
}

func (r promoCodeRepository) IncrementUsage(ctx context.Context, promoID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&promoCodeModel{}).
		Where("id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)", promoID).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, sqldb.WrapError("promo_codes.increment_usage", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r promoCodeRepository) DecrementUsage(ctx context.Context, promoID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&promoCodeModel{}).
		Where("id = ? AND usage_count > 0", promoID).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count - 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, sqldb.WrapError("promo_codes.decrement_usage", res.Error)
	}
	return res.RowsAffected == 1, nil
}
