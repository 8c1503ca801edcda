package ledger

import (
	"context"

	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
)

// Repository manages persistence for webhook ledger entries.
type Repository interface {
	Insert(ctx context.Context, event *models.WebhookEvent) error
	UpdateResult(ctx context.Context, eventID string, result enums.WebhookResult) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) UpdateResult(ctx context.Context, eventID string, result enums.WebhookResult) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Update("processing_result", result).Error
}
