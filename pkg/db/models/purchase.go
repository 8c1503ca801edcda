package models

import (
	"time"

	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Purchase records a completed Stripe checkout session. The remediation
// endpoint consults it to decide where to re-enter the activation flow.
// UserID is null when the activation failed before a local account existed.
type Purchase struct {
	ID              uuid.UUID            `gorm:"type:uuid;primaryKey"`
	UserID          *uuid.UUID           `gorm:"column:user_id;type:uuid;index"`
	StripeSessionID string               `gorm:"column:stripe_session_id;not null;uniqueIndex"`
	EventID         string               `gorm:"column:event_id;not null"`
	Amount          decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string               `gorm:"column:currency;not null;default:'usd'"`
	Status          enums.PurchaseStatus `gorm:"column:status;not null;default:'paid'"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key so inserts work identically on
// postgres and the sqlite test databases.
func (p *Purchase) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
