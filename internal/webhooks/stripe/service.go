package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/internal/activation"
	"github.com/airmesh-mobile/airmesh-backend/internal/purchases"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

// Orchestrator is the slice of the activation service the webhook consumes.
type Orchestrator interface {
	Activate(ctx context.Context, input activation.ActivateInput) (*activation.Result, error)
}

// ServiceParams wires the webhook service dependencies.
type ServiceParams struct {
	Orchestrator Orchestrator
	Purchases    purchases.Repository
	Logger       *logger.Logger
}

// Service turns paid Stripe checkout sessions into eSIM activations.
type Service struct {
	orchestrator Orchestrator
	purchases    purchases.Repository
	logg         *logger.Logger
}

// NewService builds the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation orchestrator required")
	}
	if params.Purchases == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orchestrator: params.Orchestrator,
		purchases:    params.Purchases,
		logg:         params.Logger,
	}, nil
}

// HandleEvent processes a verified Stripe event. Event types outside the
// purchase flow are acknowledged and dropped.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session")
		}
		return s.handleCheckoutCompleted(ctx, event.ID, &session)
	default:
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, eventID string, session *stripe.CheckoutSession) error {
	if session.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}

	identity := extractIdentity(session)
	if identity.FirebaseUID == "" && identity.Email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session carries no customer identity")
	}

	ctx = s.logg.WithEventID(ctx, eventID)

	result, err := s.orchestrator.Activate(ctx, activation.ActivateInput{
		FirebaseUID: identity.FirebaseUID,
		Email:       identity.Email,
		FirstName:   identity.FirstName,
		LastName:    identity.LastName,
	})
	if err != nil {
		s.recordPurchase(ctx, eventID, session, nil, enums.PurchaseStatusFailed)
		return err
	}

	s.recordPurchase(ctx, eventID, session, result, enums.PurchaseStatusActivated)
	s.logg.Info(ctx, "checkout session activated")
	return nil
}

// recordPurchase persists the audit row for the session. The unique
// constraint on stripe_session_id collapses replays; persistence problems
// here never fail the webhook, the activation already happened.
func (s *Service) recordPurchase(ctx context.Context, eventID string, session *stripe.CheckoutSession, result *activation.Result, status enums.PurchaseStatus) {
	// UserID stays null for activations that failed before a local account
	// existed; operators resolve those through the fix endpoint.
	var userID *uuid.UUID
	if result != nil && result.User != nil {
		userID = &result.User.ID
	}

	existing, err := s.purchases.FindBySessionID(ctx, session.ID)
	if err == nil {
		if existing.Status != status {
			if err := s.purchases.UpdateStatus(ctx, existing.ID, status); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "purchase status update failed")
			}
		}
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "purchase lookup failed")
		return
	}

	purchase := &models.Purchase{
		ID:              uuid.New(),
		UserID:          userID,
		StripeSessionID: session.ID,
		EventID:         eventID,
		Amount:          decimal.NewFromInt(session.AmountTotal).Div(decimal.NewFromInt(100)),
		Currency:        string(session.Currency),
		Status:          status,
	}
	if err := s.purchases.Create(ctx, purchase); err != nil && !db.IsUniqueViolation(err) {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "purchase insert failed")
	}
}

type customerIdentity struct {
	FirebaseUID string
	Email       string
	FirstName   string
	LastName    string
}

// extractIdentity pulls the customer out of the session. Checkout links set
// firebase_uid in metadata; client_reference_id is the fallback for older
// storefront sessions.
func extractIdentity(session *stripe.CheckoutSession) customerIdentity {
	identity := customerIdentity{}

	if session.Metadata != nil {
		identity.FirebaseUID = strings.TrimSpace(session.Metadata["firebase_uid"])
		identity.Email = strings.TrimSpace(session.Metadata["email"])
	}
	if identity.FirebaseUID == "" {
		identity.FirebaseUID = strings.TrimSpace(session.ClientReferenceID)
	}

	var name string
	if session.CustomerDetails != nil {
		if identity.Email == "" {
			identity.Email = strings.TrimSpace(session.CustomerDetails.Email)
		}
		name = strings.TrimSpace(session.CustomerDetails.Name)
	}
	if identity.Email == "" {
		identity.Email = strings.TrimSpace(session.CustomerEmail)
	}

	if name != "" {
		parts := strings.Fields(name)
		identity.FirstName = parts[0]
		if len(parts) > 1 {
			identity.LastName = strings.Join(parts[1:], " ")
		}
	}

	return identity
}
