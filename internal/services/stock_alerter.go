package services

import (
	"context"
	"errors"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// DefaultLowStockThreshold is the stock level at or below which interested users are alerted.
const DefaultLowStockThreshold = 3

// purchasedStatuses are order states whose customers already own the product.
var purchasedStatuses = []OrderStatus{
	domain.OrderStatusPaid,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

// StockAlerterDeps wires the low-stock alerter.
type StockAlerterDeps struct {
	Products      repositories.ProductRepository
	Likes         repositories.LikeRepository
	Orders        repositories.OrderRepository
	Notifications NotificationService
	Threshold     int
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type stockAlerter struct {
	products      repositories.ProductRepository
	likes         repositories.LikeRepository
	orders        repositories.OrderRepository
	notifications NotificationService
	threshold     int
	logger        func(context.Context, string, map[string]any)
}

// NewStockAlerter constructs a StockAlerter.
func NewStockAlerter(deps StockAlerterDeps) (StockAlerter, error) {
	if deps.Products == nil || deps.Likes == nil || deps.Orders == nil {
		return nil, errors.New("stock alerter: product, like and order repositories are required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("stock alerter: notification service is required")
	}
	threshold := deps.Threshold
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockAlerter{
		products:      deps.Products,
		likes:         deps.Likes,
		orders:        deps.Orders,
		notifications: deps.Notifications,
		threshold:     threshold,
		logger:        logger,
	}, nil
}

// NotifyLowStock alerts operators and the users who liked but never bought each low product.
// Failures are logged; a sale never fails because of an alert.
func (a *stockAlerter) NotifyLowStock(ctx context.Context, productIDs []string) {
	if len(productIDs) == 0 {
		return
	}
	low, err := a.products.ListLowStock(ctx, productIDs, a.threshold)
	if err != nil {
		a.logger(ctx, "stock.alert.lookup_failed", map[string]any{"error": err.Error()})
		return
	}
	for _, product := range low {
		if err := a.notifications.SendLowStockAlert(ctx, product); err != nil {
			a.logger(ctx, "stock.alert.failed", map[string]any{"productId": product.ID, "error": err.Error()})
		}
		users, err := a.interestedNonBuyers(ctx, product.ID)
		if err != nil {
			a.logger(ctx, "stock.alert.audience_failed", map[string]any{"productId": product.ID, "error": err.Error()})
			continue
		}
		if len(users) == 0 {
			continue
		}
		if err := a.notifications.SendMassiveLowStockAlert(ctx, users, product); err != nil {
			a.logger(ctx, "stock.alert.failed", map[string]any{"productId": product.ID, "error": err.Error()})
		}
	}
}

func (a *stockAlerter) interestedNonBuyers(ctx context.Context, productID string) ([]InterestedUser, error) {
	interested, err := a.likes.ListInterested(ctx, productID)
	if err != nil || len(interested) == 0 {
		return nil, err
	}
	buyers, err := a.orders.PurchaserIDs(ctx, productID, purchasedStatuses)
	if err != nil {
		return nil, err
	}
	bought := make(map[string]struct{}, len(buyers))
	for _, id := range buyers {
		bought[id] = struct{}{}
	}
	out := interested[:0:0]
	for _, user := range interested {
		if _, ok := bought[user.UserID]; ok {
			continue
		}
		out = append(out, user)
	}
	return out, nil
}
