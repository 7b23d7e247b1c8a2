package sqlstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
)

type productRepository struct {
	db *gorm.DB
}

func (r productRepository) Insert(ctx context.Context, product domain.Product) error {
	model := productFromDomain(product)
	return sqldb.WrapError("products.insert", r.db.WithContext(ctx).Create(&model).Error)
}

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var model productModel
	if err := r.db.WithContext(ctx).Where("id = ?", productID).First(&model).Error; err != nil {
		return domain.Product{}, sqldb.WrapError("products.find", err)
	}
	return model.toDomain(), nil
}

func (r productRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	var models []productModel
	if err := r.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&models).Error; err != nil {
		return nil, sqldb.WrapError("products.find_many", err)
	}
	for _, model := range models {
		result[model.ID] = model.toDomain()
	}
	return result, nil
}

func (r productRepository) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&productModel{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, sqldb.WrapError("products.decrement_stock", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r productRepository) IncrementStock(ctx context.Context, productID string, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&productModel{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return sqldb.WrapError("products.increment_stock", res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound("products.increment_stock")
	}
	return nil
}

func (r productRepository) UpdateProcessorRefs(ctx context.Context, productID string, processorProductID string, processorPriceID string) error {
	return r.update(ctx, "products.update_processor_refs", productID, map[string]any{
		"processor_product_id": processorProductID,
		"processor_price_id":   processorPriceID,
	})
}

func (r productRepository) UpdateStatus(ctx context.Context, productID string, status domain.ProductStatus) error {
	return r.update(ctx, "products.update_status", productID, map[string]any{"status": string(status)})
}

func (r productRepository) UpdateDetails(ctx context.Context, productID string, name string, description string, price decimal.Decimal) error {
	return r.update(ctx, "products.update_details", productID, map[string]any{
		"name":        name,
		"description": description,
		"price":       price,
	})
}

func (r productRepository) ListLowStock(ctx context.Context, productIDs []string, threshold int) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var models []productModel
	err := r.db.WithContext(ctx).
		Where("id IN ? AND stock <= ?", productIDs, threshold).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, sqldb.WrapError("products.list_low_stock", err)
	}
	products := make([]domain.Product, 0, len(models))
	for _, model := range models {
		products = append(products, model.toDomain())
	}
	return products, nil
}

func (r productRepository) update(ctx context.Context, op string, productID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&productModel{}).Where("id = ?", productID).Updates(fields)
	if res.Error != nil {
		return sqldb.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound(op)
	}
	return nil
}
