package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
)

type cartRepository struct {
	db *gorm.DB
}

func (r cartRepository) FindActive(ctx context.Context, userID string) (domain.Cart, error) {
	var model cartModel
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("cart_items.created_at").Order("cart_items.id")
		}).
		Preload("Items.Product").
		Where("user_id = ? AND status = ?", userID, string(domain.CartStatusActive)).
		First(&model).Error
	if err != nil {
		return domain.Cart{}, sqldb.WrapError("carts.find_active", err)
	}
	return model.toDomain(), nil
}

func (r cartRepository) Create(ctx context.Context, cart domain.Cart) error {
	model := cartModel{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Status:    string(cart.Status),
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
	if cart.PromoCodeID != "" {
		promoID := cart.PromoCodeID
		model.PromoCodeID = &promoID
	}
	return sqldb.WrapError("carts.create", r.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error)
}

// SaveItem inserts the item or updates its quantity when the id already exists.
func (r cartRepository) SaveItem(ctx context.Context, item domain.CartItem) error {
	model := cartItemModel{
		ID:        item.ID,
		CartID:    item.CartID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return sqldb.WrapError("carts.save_item", err)
	}
	return r.touch(ctx, item.CartID)
}

func (r cartRepository) DeleteItem(ctx context.Context, cartID string, itemID string) error {
	res := r.db.WithContext(ctx).Where("cart_id = ? AND id = ?", cartID, itemID).Delete(&cartItemModel{})
	if res.Error != nil {
		return sqldb.WrapError("carts.delete_item", res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound("carts.delete_item")
	}
	return r.touch(ctx, cartID)
}

func (r cartRepository) ClearItems(ctx context.Context, cartID string) error {
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&cartItemModel{}).Error; err != nil {
		return sqldb.WrapError("carts.clear", err)
	}
	return r.touch(ctx, cartID)
}

func (r cartRepository) AttachPromo(ctx context.Context, cartID string, promoID string) error {
	return r.update(ctx, "carts.attach_promo", cartID, map[string]any{"promo_code_id": promoID})
}

func (r cartRepository) UpdateStatus(ctx context.Context, cartID string, status domain.CartStatus) error {
	return r.update(ctx, "carts.update_status", cartID, map[string]any{"status": string(status)})
}

func (r cartRepository) touch(ctx context.Context, cartID string) error {
	return r.update(ctx, "carts.touch", cartID, map[string]any{})
}

func (r cartRepository) update(ctx context.Context, op string, cartID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&cartModel{}).Where("id = ?", cartID).Updates(fields)
	if res.Error != nil {
		return sqldb.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound(op)
	}
	return nil
}
