package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
)

// Repository manages persistence for the ICCID pool. Status transitions go
// through the claim/release methods only.
type Repository interface {
	FindByICCID(ctx context.Context, iccid string) (*models.IccidInventory, error)
	FindAssignedToUser(ctx context.Context, userID uuid.UUID) (*models.IccidInventory, error)
	NextAvailable(ctx context.Context) (*models.IccidInventory, error)
	Claim(ctx context.Context, iccid string, userID uuid.UUID, at time.Time) (bool, error)
	AttachLine(ctx context.Context, iccid, lineID string) error
	InsertBatch(ctx context.Context, rows []models.IccidInventory) (int64, error)
	UpsertFromCarrier(ctx context.Context, row models.IccidInventory) error
	CountByStatus(ctx context.Context) (map[enums.IccidStatus]int64, error)
	ReleaseUnactivated(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByICCID(ctx context.Context, iccid string) (*models.IccidInventory, error) {
	var row models.IccidInventory
	if err := r.db.WithContext(ctx).
		Where("iccid = ?", iccid).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindAssignedToUser(ctx context.Context, userID uuid.UUID) (*models.IccidInventory, error) {
	var row models.IccidInventory
	if err := r.db.WithContext(ctx).
		Where("allocated_to_user = ? AND status = ?", userID, enums.IccidStatusAssigned).
		Order("assigned_at ASC").
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) NextAvailable(ctx context.Context) (*models.IccidInventory, error) {
	var row models.IccidInventory
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.IccidStatusAvailable).
		Order("created_at ASC").
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Claim performs the conditional status flip. The WHERE guard on status
// makes the transition safe under concurrent allocators; a false return
// means another request won the row.
func (r *repository) Claim(ctx context.Context, iccid string, userID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.IccidInventory{}).
		Where("iccid = ? AND status = ?", iccid, enums.IccidStatusAvailable).
		Updates(map[string]any{
			"status":            enums.IccidStatusAssigned,
			"allocated_to_user": userID,
			"assigned_at":       at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) AttachLine(ctx context.Context, iccid, lineID string) error {
	return r.db.WithContext(ctx).
		Model(&models.IccidInventory{}).
		Where("iccid = ?", iccid).
		Update("line_id", lineID).Error
}

func (r *repository) InsertBatch(ctx context.Context, rows []models.IccidInventory) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UpsertFromCarrier replays a carrier-reported line into the pool. Existing
// rows keep their allocation fields; only the carrier-owned columns refresh.
func (r *repository) UpsertFromCarrier(ctx context.Context, row models.IccidInventory) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "iccid"}},
			DoUpdates: clause.AssignmentColumns([]string{"line_id"}),
		}).
		Create(&row).Error
}

func (r *repository) CountByStatus(ctx context.Context) (map[enums.IccidStatus]int64, error) {
	var rows []struct {
		Status enums.IccidStatus
		Total  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.IccidInventory{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.IccidStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// ReleaseUnactivated returns assigned rows older than the cutoff to the pool
// when no activation ever landed for them.
func (r *repository) ReleaseUnactivated(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.IccidInventory{}).
		Where("status = ? AND assigned_at < ?", enums.IccidStatusAssigned, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM activations WHERE activations.iccid = iccid_inventory.iccid AND activations.activation_status = ?)", enums.ActivationStatusActive).
		Updates(map[string]any{
			"status":            enums.IccidStatusAvailable,
			"allocated_to_user": nil,
			"assigned_at":       nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
