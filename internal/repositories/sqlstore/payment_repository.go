package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
)

type paymentRepository struct {
	db *gorm.DB
}

func (r paymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	model := paymentFromDomain(payment)
	return sqldb.WrapError("payments.insert", r.db.WithContext(ctx).Create(&model).Error)
}

func (r paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var models []paymentModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at").
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, sqldb.WrapError("payments.list", err)
	}
	payments := make([]domain.Payment, 0, len(models))
	for _, model := range models {
		payments = append(payments, model.toDomain())
	}
	return payments, nil
}

func (r paymentRepository) TransitionForOrder(ctx context.Context, orderID string, from domain.PaymentStatus, to domain.PaymentStatus, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&paymentModel{}).
		Where("order_id = ? AND status = ?", orderID, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": at.UTC(),
		})
	if res.Error != nil {
		return 0, sqldb.WrapError("payments.transition", res.Error)
	}
	return res.RowsAffected, nil
}

func (r paymentRepository) RecordFailure(ctx context.Context, orderID string, externalID string, message string, at time.Time) error {
	query := r.db.WithContext(ctx).
		Model(&paymentModel{}).
		Where("order_id = ? AND status = ?", orderID, string(domain.PaymentStatusPending))
	if externalID != "" {
		query = query.Where("external_payment_id = ?", externalID)
	}
	err := query.Updates(map[string]any{
		"last_error": message,
		"updated_at": at.UTC(),
	}).Error
	return sqldb.WrapError("payments.record_failure", err)
}

func (r paymentRepository) SetPaymentIntent(ctx context.Context, orderID string, intentID string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&paymentModel{}).
		Where("order_id = ? AND kind = ? AND meta_payment_intent_id = ?", orderID, string(domain.PaymentKindCheckoutSession), "").
		Updates(map[string]any{
			"meta_payment_intent_id": intentID,
			"updated_at":             at.UTC(),
		}).Error
	return sqldb.WrapError("payments.set_payment_intent", err)
}
