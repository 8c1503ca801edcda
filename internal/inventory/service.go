package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
)

// ErrNoneAvailable is returned when the pool has no available ICCIDs. It is
// terminal and user-visible; recovery requires an operator restock.
var ErrNoneAvailable = pkgerrors.New(pkgerrors.CodeExhausted, "no eSIM inventory available")

// Service is the ICCID allocator. Allocation is idempotent per user: a user
// who already holds an assigned ICCID gets the same row back.
type Service interface {
	Allocate(ctx context.Context, userID uuid.UUID) (*models.IccidInventory, error)
	Restock(ctx context.Context, items []RestockItem) (int64, error)
	StockCounts(ctx context.Context) (StockCounts, error)
	ReleaseUnactivated(ctx context.Context, ttl time.Duration) (int64, error)
}

// RestockItem is one ICCID uploaded by an operator.
type RestockItem struct {
	ICCID   string `json:"iccid" validate:"required,min=18,max=22,numeric"`
	LPACode string `json:"lpa_code" validate:"required"`
	Country string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// StockCounts summarizes the pool by status.
type StockCounts struct {
	Available int64 `json:"available"`
	Assigned  int64 `json:"assigned"`
}

// ServiceParams wires the allocator dependencies.
type ServiceParams struct {
	Repository Repository
	Logger     *logger.Logger
	Metrics    *metrics.ActivationMetrics
	Now        func() time.Time
}

type service struct {
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.ActivationMetrics
	now     func() time.Time
}

// NewService builds the allocator. Metrics are optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repository,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) Allocate(ctx context.Context, userID uuid.UUID) (*models.IccidInventory, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	existing, err := s.repo.FindAssignedToUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup assigned iccid")
	}

	// A lost claim race means another allocator took the candidate, so the
	// pool of available rows strictly shrinks between iterations. Exhaustion
	// is only reported when no candidate is left.
	for {
		candidate, err := s.repo.NextAvailable(ctx)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNoneAvailable
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select available iccid")
		}

		claimed, err := s.repo.Claim(ctx, candidate.ICCID, userID, s.now())
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim iccid")
		}
		if !claimed {
			continue
		}

		row, err := s.repo.FindByICCID(ctx, candidate.ICCID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload claimed iccid")
		}
		s.logg.Info(s.logg.WithICCID(s.logg.WithUserID(ctx, userID.String()), row.ICCID), "iccid allocated")
		return row, nil
	}
}

func (s *service) Restock(ctx context.Context, items []RestockItem) (int64, error) {
	if len(items) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "at least one iccid is required")
	}

	rows := make([]models.IccidInventory, 0, len(items))
	for _, item := range items {
		iccid := strings.TrimSpace(item.ICCID)
		if iccid == "" {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "iccid is required")
		}
		if strings.TrimSpace(item.LPACode) == "" {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("lpa code is required for iccid %s", iccid))
		}
		rows = append(rows, models.IccidInventory{
			ICCID:   iccid,
			LPACode: strings.TrimSpace(item.LPACode),
			Country: strings.ToUpper(strings.TrimSpace(item.Country)),
			Status:  enums.IccidStatusAvailable,
		})
	}

	inserted, err := s.repo.InsertBatch(ctx, rows)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert inventory batch")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"uploaded": len(items),
		"inserted": inserted,
	}), "inventory restocked")
	return inserted, nil
}

func (s *service) StockCounts(ctx context.Context) (StockCounts, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return StockCounts{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count inventory")
	}
	stock := StockCounts{
		Available: counts[enums.IccidStatusAvailable],
		Assigned:  counts[enums.IccidStatusAssigned],
	}
	s.metrics.SetInventory(string(enums.IccidStatusAvailable), float64(stock.Available))
	s.metrics.SetInventory(string(enums.IccidStatusAssigned), float64(stock.Assigned))
	return stock, nil
}

// ReleaseUnactivated returns stale assigned rows to the pool. A ttl of zero
// disables reclamation and is a no-op.
func (s *service) ReleaseUnactivated(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	released, err := s.repo.ReleaseUnactivated(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release unactivated iccids")
	}
	if released > 0 {
		s.logg.Info(s.logg.WithField(ctx, "released", released), "stale iccid assignments returned to pool")
	}
	return released, nil
}
