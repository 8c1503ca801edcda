package models

import (
	"time"

	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Activation is the immutable audit record written after a carrier line
// activation. Phone number, ICCID and the LPA parts are optionally missing in
// the provider response and stored as nulls when absent.
type Activation struct {
	ID                  uuid.UUID              `gorm:"type:uuid;primaryKey"`
	UserID              uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_activations_user_iccid"`
	ICCID               *string                `gorm:"column:iccid;uniqueIndex:idx_activations_user_iccid"`
	LineID              *string                `gorm:"column:line_id"`
	PhoneNumber         *string                `gorm:"column:phone_number"`
	ActivationStatus    enums.ActivationStatus `gorm:"column:activation_status;not null;default:'pending'"`
	QRCode              *string                `gorm:"column:qr_code"`
	ActivationURL       *string                `gorm:"column:activation_url"`
	ActivationCode      *string                `gorm:"column:activation_code"`
	RawProviderResponse datatypes.JSON         `gorm:"column:raw_provider_response"`
	CreatedAt           time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key so inserts work identically on
// postgres and the sqlite test databases.
func (a *Activation) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
