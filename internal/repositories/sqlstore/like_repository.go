package sqlstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
)

type likeRepository struct {
	db *gorm.DB
}

func (r likeRepository) Like(ctx context.Context, like domain.ProductLike) error {
	model := productLikeModel{
		UserID:    like.UserID,
		ProductID: like.ProductID,
		UserEmail: like.UserEmail,
		CreatedAt: like.CreatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
	return sqldb.WrapError("likes.like", err)
}

func (r likeRepository) Unlike(ctx context.Context, userID string, productID string) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&productLikeModel{}).Error
	return sqldb.WrapError("likes.unlike", err)
}

func (r likeRepository) ListInterested(ctx context.Context, productID string) ([]domain.InterestedUser, error) {
	var models []productLikeModel
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("user_id").
		Find(&models).Error
	if err != nil {
		return nil, sqldb.WrapError("likes.list_interested", err)
	}
	users := make([]domain.InterestedUser, 0, len(models))
	for _, model := range models {
		users = append(users, domain.InterestedUser{UserID: model.UserID, Email: model.UserEmail})
	}
	return users, nil
}
