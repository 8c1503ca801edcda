package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
)

// Repository manages persistence for user accounts. Account lifecycle is
// owned elsewhere; the activation flow reads and patches provisioning fields.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByFirebaseUID(ctx context.Context, firebaseUID string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateCarrierUserID(ctx context.Context, id uuid.UUID, carrierUserID string) error
	UpdateProvisioning(ctx context.Context, id uuid.UUID, fields ProvisioningFields) error
	ListWithCarrierUser(ctx context.Context, limit int) ([]models.User, error)
}

// ProvisioningFields are the profile columns stamped after line activation.
// Nil pointers are skipped so partial carrier responses update only what
// they returned.
type ProvisioningFields struct {
	PhoneNumber *string
	ICCID       *string
	LPAAddress  *string
	QRCode      *string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a user repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByFirebaseUID(ctx context.Context, firebaseUID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "firebase_uid = ?", firebaseUID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repository) UpdateCarrierUserID(ctx context.Context, id uuid.UUID, carrierUserID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("carrier_user_id", carrierUserID).Error
}

func (r *repository) UpdateProvisioning(ctx context.Context, id uuid.UUID, fields ProvisioningFields) error {
	updates := map[string]any{}
	if fields.PhoneNumber != nil {
		updates["phone_number"] = *fields.PhoneNumber
	}
	if fields.ICCID != nil {
		updates["iccid"] = *fields.ICCID
	}
	if fields.LPAAddress != nil {
		updates["lpa_address"] = *fields.LPAAddress
	}
	if fields.QRCode != nil {
		updates["qr_code"] = *fields.QRCode
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListWithCarrierUser(ctx context.Context, limit int) ([]models.User, error) {
	var users []models.User
	query := r.db.WithContext(ctx).
		Where("carrier_user_id IS NOT NULL AND carrier_user_id <> ''").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
