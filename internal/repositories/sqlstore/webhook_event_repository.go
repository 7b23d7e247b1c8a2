package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storefront/api/internal/platform/sqldb"
)

type webhookEventRepository struct {
	db *gorm.DB
}

func (r webhookEventRepository) MarkProcessed(ctx context.Context, eventID string, eventType string, at time.Time) (bool, error) {
	model := processedWebhookEventModel{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: at.UTC(),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return false, sqldb.WrapError("webhook_events.mark_processed", res.Error)
	}
	return res.RowsAffected == 1, nil
}
