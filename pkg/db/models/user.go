package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents the canonical identity entity. Carrier-side identifiers are
// filled in lazily by the activation flow.
type User struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FirebaseUID    string     `gorm:"column:firebase_uid;not null;uniqueIndex"`
	Email          string     `gorm:"type:text;not null;uniqueIndex"`
	FirstName      string     `gorm:"column:first_name;not null"`
	LastName       string     `gorm:"column:last_name;not null"`
	PhoneNumber    *string    `gorm:"column:phone_number"`
	CarrierUserID  *string    `gorm:"column:carrier_user_id"`
	CarrierGroupID *string    `gorm:"column:carrier_group_id"`
	ICCID          *string    `gorm:"column:iccid"`
	LPAAddress     *string    `gorm:"column:lpa_address"`
	QRCode         *string    `gorm:"column:qr_code"`
	RewardAddress  string     `gorm:"column:reward_address;not null;default:''"`
	LastLoginAt    *time.Time `gorm:"column:last_login_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key so inserts work identically on
// postgres and the sqlite test databases.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
