package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Notification kinds published for downstream mailers.
const (
	NotificationLowStock         = "product.low_stock"
	NotificationLowStockInterest = "product.low_stock.interested"
)

// NotificationPublisher hands notification messages to the delivery channel.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) (string, error)
}

// NotificationMessage is the payload published for a notification.
type NotificationMessage struct {
	Kind        string    `json:"kind"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Stock       int       `json:"stock"`
	Recipients  []string  `json:"recipients,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NotificationServiceDeps wires the notification service.
type NotificationServiceDeps struct {
	Publisher NotificationPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	publisher NotificationPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification service: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationService{
		publisher: deps.Publisher,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// SendLowStockAlert notifies operators that a product is running low.
func (s *notificationService) SendLowStockAlert(ctx context.Context, product Product) error {
	return s.publish(ctx, NotificationMessage{
		Kind:        NotificationLowStock,
		ProductID:   product.ID,
		ProductName: product.Name,
		Stock:       product.Stock,
	})
}

// SendMassiveLowStockAlert notifies every interested user with an email in one message.
func (s *notificationService) SendMassiveLowStockAlert(ctx context.Context, users []InterestedUser, product Product) error {
	recipients := make([]string, 0, len(users))
	seen := make(map[string]struct{}, len(users))
	for _, user := range users {
		email := strings.ToLower(strings.TrimSpace(user.Email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, email)
	}
	if len(recipients) == 0 {
		return nil
	}
	return s.publish(ctx, NotificationMessage{
		Kind:        NotificationLowStockInterest,
		ProductID:   product.ID,
		ProductName: product.Name,
		Stock:       product.Stock,
		Recipients:  recipients,
	})
}

func (s *notificationService) publish(ctx context.Context, msg NotificationMessage) error {
	msg.OccurredAt = s.clock()
	id, err := s.publisher.PublishNotification(ctx, msg)
	if err != nil {
		s.logger(ctx, "notification.publish.failed", map[string]any{
			"kind":      msg.Kind,
			"productId": msg.ProductID,
			"error":     err.Error(),
		})
		return fmt.Errorf("publish %s notification: %w", msg.Kind, err)
	}
	s.logger(ctx, "notification.published", map[string]any{
		"kind":       msg.Kind,
		"productId":  msg.ProductID,
		"recipients": len(msg.Recipients),
		"messageId":  id,
	})
	return nil
}
