package purchases

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
)

// Repository manages persistence for Stripe purchases. The unique constraint
// on stripe_session_id keeps replayed checkout sessions to a single row.
type Repository interface {
	Create(ctx context.Context, purchase *models.Purchase) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.Purchase, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PurchaseStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a purchase repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, purchase *models.Purchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).First(&purchase, "stripe_session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PurchaseStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ?", id).
		Update("status", status).Error
}
