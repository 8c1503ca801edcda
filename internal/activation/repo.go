package activation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
)

// Repository manages persistence for activation records. Records are the
// audit trail of carrier-side effects; the (user_id, iccid) constraint makes
// replays converge on a single row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, record *models.Activation) error
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Activation, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Activation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an activation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Upsert(ctx context.Context, record *models.Activation) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "iccid"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"line_id",
				"phone_number",
				"activation_status",
				"qr_code",
				"activation_url",
				"activation_code",
				"raw_provider_response",
			}),
		}).
		Create(record).Error
}

func (r *repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Activation, error) {
	var record models.Activation
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND activation_status = ?", userID, enums.ActivationStatusActive).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Activation, error) {
	var record models.Activation
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
