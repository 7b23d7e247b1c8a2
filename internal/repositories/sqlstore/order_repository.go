package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
	"github.com/storefront/api/internal/repositories"
)

type orderRepository struct {
	db *gorm.DB
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	model := orderFromDomain(order)
	err := r.db.WithContext(ctx).Omit("Payments").Create(&model).Error
	return sqldb.WrapError("orders.insert", err)
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var model orderModel
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("order_items.id") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("payments.created_at") }).
		Where("id = ?", orderID).
		First(&model).Error
	if err != nil {
		return domain.Order{}, sqldb.WrapError("orders.find", err)
	}
	return model.toDomain(), nil
}

func (r orderRepository) ExistsWithStatus(ctx context.Context, userID string, status domain.OrderStatus) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&orderModel{}).
		Where("user_id = ? AND status = ?", userID, string(status)).
		Count(&count).Error
	if err != nil {
		return false, sqldb.WrapError("orders.exists", err)
	}
	return count > 0, nil
}

func (r orderRepository) Transition(ctx context.Context, transition repositories.OrderTransition) (bool, error) {
	from := make([]string, 0, len(transition.From))
	for _, status := range transition.From {
		from = append(from, string(status))
	}
	at := transition.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	query := r.db.WithContext(ctx).
		Model(&orderModel{}).
		Where("id = ? AND status IN ?", transition.OrderID, from)
	if transition.RequireDeliveryUserID != "" {
		query = query.Where("delivery_user_id = ?", transition.RequireDeliveryUserID)
	}

	fields := map[string]any{
		"status":     string(transition.To),
		"updated_at": at,
	}
	if transition.AssignDeliveryUserID != "" {
		fields["delivery_user_id"] = transition.AssignDeliveryUserID
	}

	res := query.Updates(fields)
	if res.Error != nil {
		return false, sqldb.WrapError("orders.transition", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r orderRepository) SetPaymentSession(ctx context.Context, orderID string, sessionID string) error {
	res := r.db.WithContext(ctx).
		Model(&orderModel{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_session_id": sessionID,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return sqldb.WrapError("orders.set_payment_session", res.Error)
	}
	if res.RowsAffected == 0 {
		return sqldb.NotFound("orders.set_payment_session")
	}
	return nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	query := r.db.WithContext(ctx).Model(&orderModel{})
	if filter.UserID != "" {
		query = query.Where("orders.user_id = ?", filter.UserID)
	}
	if filter.DeliveryUserID != "" {
		query = query.Where("orders.delivery_user_id = ?", filter.DeliveryUserID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("orders.status IN ?", statuses)
	}
	if from := filter.TotalRange.From; from != nil {
		query = query.Where("orders.total >= ?", *from)
	}
	if to := filter.TotalRange.To; to != nil {
		query = query.Where("orders.total <= ?", *to)
	}
	if from := filter.CreatedRange.From; from != nil {
		query = query.Where("orders.created_at >= ?", from.UTC())
	}
	if to := filter.CreatedRange.To; to != nil {
		query = query.Where("orders.created_at <= ?", to.UTC())
	}

	query, size, err := keysetPage(query, "orders", filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	var models []orderModel
	err = query.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("order_items.id") }).
		Find(&models).Error
	if err != nil {
		return domain.CursorPage[domain.Order]{}, sqldb.WrapError("orders.list", err)
	}

	hasMore := len(models) > size
	if hasMore {
		models = models[:size]
	}
	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(models))}
	for _, model := range models {
		page.Items = append(page.Items, model.toDomain())
	}
	if hasMore {
		last := models[len(models)-1]
		page.NextPageToken = nextPageToken(true, last.CreatedAt, last.ID)
	}
	return page, nil
}

func (r orderRepository) PurchaserIDs(ctx context.Context, productID string, statuses []domain.OrderStatus) ([]string, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&orderModel{}).
		Distinct("orders.user_id").
		Joins("JOIN order_items ON order_items.order_id = orders.id").
		Where("order_items.product_id = ? AND orders.status IN ? AND orders.user_id IS NOT NULL", productID, values).
		Order("orders.user_id").
		Pluck("orders.user_id", &ids).Error
	if err != nil {
		return nil, sqldb.WrapError("orders.purchasers", err)
	}
	return ids, nil
}
