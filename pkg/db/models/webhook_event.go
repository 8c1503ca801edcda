package models

import (
	"time"

	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
)

// WebhookEvent is the idempotency ledger: one append-only row per externally
// observed event ID. The unique constraint on event_id is the mutual-exclusion
// gate for webhook side effects.
type WebhookEvent struct {
	EventID          string              `gorm:"column:event_id;primaryKey"`
	EventType        string              `gorm:"column:event_type;not null"`
	ProcessingResult enums.WebhookResult `gorm:"column:processing_result;not null;default:'processing'"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
}
