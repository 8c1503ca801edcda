package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

const (
	cacheScope = "stripe_event"
	cacheTTL   = 24 * time.Hour
)

// Service is the idempotency gate in front of webhook processing. The
// database uniqueness constraint on event_id is the source of truth; the
// cache is a best-effort fast path and is never trusted to admit.
type Service interface {
	// Admit records the event and reports whether the caller holds exclusive
	// processing rights. admitted=false with a nil error means the event was
	// already processed and the caller must return success without side
	// effects. Any storage failure is returned as an error so the caller
	// fails closed and the sender retries.
	Admit(ctx context.Context, eventID, eventType string) (bool, error)
	// MarkResult records the terminal processing result for an admitted event.
	MarkResult(ctx context.Context, eventID string, result enums.WebhookResult) error
}

// Cache is the advisory duplicate-check surface, satisfied by pkg/redis.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IdempotencyKey(scope, id string) string
}

// ServiceParams wires the ledger service dependencies.
type ServiceParams struct {
	Repository Repository
	Cache      Cache
	Logger     *logger.Logger
}

type service struct {
	repo  Repository
	cache Cache
	logg  *logger.Logger
}

// NewService builds the ledger service. Cache is optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		repo:  params.Repository,
		cache: params.Cache,
		logg:  params.Logger,
	}, nil
}

func (s *service) Admit(ctx context.Context, eventID, eventType string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}

	if s.seenInCache(ctx, eventID) {
		return false, nil
	}

	err := s.repo.Insert(ctx, &models.WebhookEvent{
		EventID:          eventID,
		EventType:        eventType,
		ProcessingResult: enums.WebhookResultProcessing,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			s.cacheSeen(ctx, eventID)
			return false, nil
		}
		// Fail closed. An indeterminate write must surface as retryable
		// rather than risk double processing.
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}

	return true, nil
}

func (s *service) MarkResult(ctx context.Context, eventID string, result enums.WebhookResult) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if err := s.repo.UpdateResult(ctx, eventID, result); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update webhook event result")
	}
	if result == enums.WebhookResultSuccess {
		s.cacheSeen(ctx, eventID)
	}
	return nil
}

func (s *service) seenInCache(ctx context.Context, eventID string) bool {
	if s.cache == nil {
		return false
	}
	value, err := s.cache.Get(ctx, s.cache.IdempotencyKey(cacheScope, eventID))
	if err != nil {
		return false
	}
	return value != ""
}

func (s *service) cacheSeen(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	key := s.cache.IdempotencyKey(cacheScope, eventID)
	if err := s.cache.Set(ctx, key, "1", cacheTTL); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency cache write failed")
	}
}
