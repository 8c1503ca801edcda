package models

import (
	"time"

	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	"github.com/google/uuid"
)

// IccidInventory is one physical/eSIM identifier in stock. A row moves
// available -> assigned exactly once; no delete path exists.
type IccidInventory struct {
	ICCID           string            `gorm:"column:iccid;primaryKey"`
	LPACode         string            `gorm:"column:lpa_code;not null"`
	Country         string            `gorm:"column:country;not null;default:'US'"`
	Status          enums.IccidStatus `gorm:"column:status;not null;default:'available';index"`
	LineID          *string           `gorm:"column:line_id"`
	AllocatedToUser *uuid.UUID        `gorm:"column:allocated_to_user;type:uuid;index"`
	AssignedAt      *time.Time        `gorm:"column:assigned_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (IccidInventory) TableName() string { return "iccid_inventory" }
