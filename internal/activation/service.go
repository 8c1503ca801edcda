package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/internal/notifications"
	"github.com/airmesh-mobile/airmesh-backend/internal/users"
	"github.com/airmesh-mobile/airmesh-backend/pkg/carrier"
	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
	"github.com/airmesh-mobile/airmesh-backend/pkg/qr"
)

// Orchestration steps, attached to failures so remediation tooling can
// resume from the point the chain broke.
const (
	StepCarrierUser    = "carrier_user"
	StepLineActivation = "line_activation"
	StepPersist        = "persist"
	StepNotify         = "notify"
)

// State names the stations of the purchase-to-activation state machine.
type State string

const (
	StatePaymentConfirmed    State = "payment_confirmed"
	StateCarrierUserResolved State = "carrier_user_resolved"
	StateLineActivated       State = "line_activated"
	StateRecordPersisted     State = "record_persisted"
	StateNotificationSent    State = "notification_sent"
)

// CarrierClient is the provisioning surface the orchestrator consumes,
// satisfied by carrier.Client.
type CarrierClient interface {
	CreateUser(ctx context.Context, params carrier.CreateUserParams) (carrier.CreateUserResult, error)
	FindUserByEmail(ctx context.Context, email string) (string, error)
	ActivateLine(ctx context.Context, params carrier.ActivateLineParams) (*carrier.ActivateLineResult, error)
	GetLines(ctx context.Context, carrierUserID string) ([]carrier.Line, error)
}

// Service drives a paid user through carrier provisioning. Every operation
// is resumable: persisted state short-circuits steps that already took
// effect, so retries never repeat carrier-side writes.
type Service interface {
	Activate(ctx context.Context, input ActivateInput) (*Result, error)
	ResendNotification(ctx context.Context, firebaseUID string) error
	Reconcile(ctx context.Context, user models.User) error
}

// ActivateInput identifies the paying customer. The local account is created
// when absent so first-purchase signups provision cleanly.
type ActivateInput struct {
	FirebaseUID string
	Email       string
	FirstName   string
	LastName    string
}

// Result reports how far the state machine advanced and the persisted
// artifacts.
type Result struct {
	State      State              `json:"state"`
	User       *models.User       `json:"user"`
	Activation *models.Activation `json:"activation"`
}

// TxRunner runs fn inside a database transaction. *db.Client satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the orchestrator dependencies.
type ServiceParams struct {
	Config        config.CarrierConfig
	Carrier       CarrierClient
	Allocator     inventory.Service
	Users         users.Repository
	Activations   Repository
	Inventory     inventory.Repository
	Notifications notifications.Service
	Events        EventPublisher
	Tx            TxRunner
	Logger        *logger.Logger
	Metrics       *metrics.ActivationMetrics
}

type service struct {
	cfg         config.CarrierConfig
	carrier     CarrierClient
	allocator   inventory.Service
	users       users.Repository
	activations Repository
	inventory   inventory.Repository
	notifier    notifications.Service
	events      EventPublisher
	tx          TxRunner
	logg        *logger.Logger
	metrics     *metrics.ActivationMetrics
}

// NewService builds the orchestrator. Events is optional; everything else
// is required.
func NewService(params ServiceParams) (Service, error) {
	if params.Carrier == nil {
		return nil, fmt.Errorf("carrier client is required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("inventory allocator is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Activations == nil {
		return nil, fmt.Errorf("activation repository is required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory repository is required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		cfg:         params.Config,
		carrier:     params.Carrier,
		allocator:   params.Allocator,
		users:       params.Users,
		activations: params.Activations,
		inventory:   params.Inventory,
		notifier:    params.Notifications,
		events:      params.Events,
		tx:          params.Tx,
		logg:        params.Logger,
		metrics:     params.Metrics,
	}, nil
}

func (s *service) Activate(ctx context.Context, input ActivateInput) (*Result, error) {
	user, err := s.resolveLocalUser(ctx, input)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, user.ID.String())

	carrierUserID, err := s.resolveCarrierUser(ctx, user)
	if err != nil {
		s.metrics.IncStepFailure(StepCarrierUser)
		return nil, err
	}

	// An already-active record means the carrier side is done. Only the
	// notification is re-attempted.
	if existing, err := s.activations.FindActiveByUser(ctx, user.ID); err == nil {
		state := s.notify(ctx, user, existing)
		return &Result{State: state, User: user, Activation: existing}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup activation record")
	}

	allocated, err := s.allocator.Allocate(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithICCID(ctx, allocated.ICCID)

	record, err := s.activateLine(ctx, user, carrierUserID, allocated)
	if err != nil {
		s.metrics.IncStepFailure(StepLineActivation)
		return nil, err
	}

	if err := s.persist(ctx, user, record); err != nil {
		s.metrics.IncStepFailure(StepPersist)
		return nil, err
	}

	s.metrics.IncActivation()
	s.publishActivated(ctx, user, record)

	state := s.notify(ctx, user, record)
	return &Result{State: state, User: user, Activation: record}, nil
}

// ResendNotification rebuilds the activation email from persisted fields.
func (s *service) ResendNotification(ctx context.Context, firebaseUID string) error {
	if strings.TrimSpace(firebaseUID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "firebase uid is required")
	}

	user, err := s.users.FindByFirebaseUID(ctx, firebaseUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}

	record, err := s.activations.FindLatestByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no activation record for user")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup activation record")
	}

	if err := s.notifier.SendActivationEmail(ctx, s.emailInput(user, record)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resend activation email").WithStep(StepNotify)
	}
	return nil
}

// Reconcile replays the carrier's line list for a user into local state,
// healing drift between the carrier and this side.
func (s *service) Reconcile(ctx context.Context, user models.User) error {
	if user.CarrierUserID == nil || strings.TrimSpace(*user.CarrierUserID) == "" {
		return nil
	}

	lines, err := s.carrier.GetLines(ctx, *user.CarrierUserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list carrier lines")
	}

	for _, line := range lines {
		// The (user_id, iccid) upsert cannot converge on a null iccid, so a
		// line without one would insert a fresh row on every pass. Skip it.
		if line.ICCID == "" {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"line_id": line.LineID,
				"user_id": user.ID.String(),
			}), "carrier line has no iccid, skipping reconcile")
			continue
		}

		userID := user.ID
		assignedAt := time.Now().UTC()
		row := models.IccidInventory{
			ICCID:           line.ICCID,
			LPACode:         line.SIM.ActivationCode,
			Status:          enums.IccidStatusAssigned,
			LineID:          &line.LineID,
			AllocatedToUser: &userID,
			AssignedAt:      &assignedAt,
		}
		if err := s.inventory.UpsertFromCarrier(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert inventory from carrier")
		}

		record := s.recordFromLine(user.ID, line)
		if err := s.activations.Upsert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert activation from carrier")
		}
	}

	return nil
}

func (s *service) resolveLocalUser(ctx context.Context, input ActivateInput) (*models.User, error) {
	firebaseUID := strings.TrimSpace(input.FirebaseUID)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if firebaseUID == "" && email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "firebase uid or email is required")
	}

	if firebaseUID != "" {
		user, err := s.users.FindByFirebaseUID(ctx, firebaseUID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user by firebase uid")
		}
	}

	if email != "" {
		user, err := s.users.FindByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user by email")
		}
	}

	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot create user without an email")
	}

	user := &models.User{
		ID:          uuid.New(),
		FirebaseUID: firebaseUID,
		Email:       email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
	}
	s.logg.Info(s.logg.WithUserID(ctx, user.ID.String()), "local user created for purchase")
	return user, nil
}

// resolveCarrierUser reuses the stored carrier ID when present; otherwise it
// creates one, reconciling the carrier's non-idempotent create endpoint via
// lookup-by-email.
func (s *service) resolveCarrierUser(ctx context.Context, user *models.User) (string, error) {
	if user.CarrierUserID != nil && strings.TrimSpace(*user.CarrierUserID) != "" {
		return *user.CarrierUserID, nil
	}

	result, err := s.carrier.CreateUser(ctx, carrier.CreateUserParams{
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Email:      user.Email,
		ExternalID: user.ID.String(),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create carrier user").WithStep(StepCarrierUser)
	}

	var carrierUserID string
	switch result.Outcome {
	case carrier.OutcomeCreated:
		carrierUserID = result.UserID
	case carrier.OutcomeAlreadyExists:
		id, err := s.carrier.FindUserByEmail(ctx, user.Email)
		if err != nil {
			if errors.Is(err, carrier.ErrNotFound) {
				return "", pkgerrors.New(pkgerrors.CodeDependency, "carrier reports an existing user but lookup by email found none").WithStep(StepCarrierUser)
			}
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find carrier user by email").WithStep(StepCarrierUser)
		}
		carrierUserID = id
		s.logg.Info(ctx, "carrier user adopted via email lookup")
	default:
		return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown carrier create outcome %d", result.Outcome)).WithStep(StepCarrierUser)
	}

	if err := s.users.UpdateCarrierUserID(ctx, user.ID, carrierUserID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store carrier user id").WithStep(StepCarrierUser)
	}
	user.CarrierUserID = &carrierUserID
	return carrierUserID, nil
}

func (s *service) activateLine(ctx context.Context, user *models.User, carrierUserID string, allocated *models.IccidInventory) (*models.Activation, error) {
	result, err := s.carrier.ActivateLine(ctx, carrier.ActivateLineParams{
		CarrierUserID: carrierUserID,
		Country:       allocated.Country,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate line").WithStep(StepLineActivation)
	}

	// The carrier may omit phone number or ICCID. Persist what arrived and
	// flag the gaps for manual follow-up.
	iccid := result.ICCID
	if iccid == "" {
		iccid = allocated.ICCID
		s.logg.Warn(ctx, "carrier response missing iccid, using allocated inventory row")
	}
	activationCode := result.SIM.ActivationCode
	if activationCode == "" {
		activationCode = allocated.LPACode
	}
	host := result.SIM.ActivationURL
	if host == "" {
		host = s.cfg.LPAHost
	}
	if result.PhoneNumber == "" {
		s.logg.Warn(ctx, "carrier response missing phone number")
	}

	if result.LineID != "" {
		if err := s.inventory.AttachLine(ctx, allocated.ICCID, result.LineID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach line to inventory").WithStep(StepLineActivation)
		}
	}

	record := &models.Activation{
		ID:                  uuid.New(),
		UserID:              user.ID,
		ActivationStatus:    enums.ActivationStatusActive,
		RawProviderResponse: datatypes.JSON(result.RawResponse),
	}
	if iccid != "" {
		record.ICCID = &iccid
	}
	if result.LineID != "" {
		record.LineID = &result.LineID
	}
	if result.PhoneNumber != "" {
		record.PhoneNumber = &result.PhoneNumber
	}
	if activationCode != "" {
		record.ActivationCode = &activationCode
	}
	if host != "" {
		record.ActivationURL = &host
	}

	if iccid != "" {
		lpa := qr.LPAString(host, iccid, activationCode)
		encoded, err := qr.EncodePNG(lpa)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "qr render failed, continuing without image")
		} else {
			record.QRCode = &encoded
		}
	}

	return record, nil
}

// persist writes the activation record and the user's provisioning fields in
// one transaction so a crash cannot leave the record without the profile.
func (s *service) persist(ctx context.Context, user *models.User, record *models.Activation) error {
	fields := users.ProvisioningFields{
		PhoneNumber: record.PhoneNumber,
		ICCID:       record.ICCID,
		QRCode:      record.QRCode,
	}
	if record.ICCID != nil {
		lpa := qr.LPAString(deref(record.ActivationURL), *record.ICCID, deref(record.ActivationCode))
		fields.LPAAddress = &lpa
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.activations.WithTx(tx).Upsert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist activation record").WithStep(StepPersist)
		}
		if err := s.users.WithTx(tx).UpdateProvisioning(ctx, user.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update user profile").WithStep(StepPersist)
		}
		return nil
	})
}

// notify sends the activation email. Failures are logged only; the carrier
// activation already took effect and must not be rolled back over email.
func (s *service) notify(ctx context.Context, user *models.User, record *models.Activation) State {
	if err := s.notifier.SendActivationEmail(ctx, s.emailInput(user, record)); err != nil {
		s.metrics.IncStepFailure(StepNotify)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "activation email failed")
		return StateRecordPersisted
	}
	return StateNotificationSent
}

func (s *service) publishActivated(ctx context.Context, user *models.User, record *models.Activation) {
	if s.events == nil {
		return
	}
	event := ActivationEvent{
		UserID:      user.ID.String(),
		ICCID:       deref(record.ICCID),
		LineID:      deref(record.LineID),
		PhoneNumber: deref(record.PhoneNumber),
		ActivatedAt: time.Now().UTC(),
	}
	if err := s.events.PublishActivation(ctx, event); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "activation event publish failed")
	}
}

func (s *service) emailInput(user *models.User, record *models.Activation) notifications.ActivationEmailInput {
	input := notifications.ActivationEmailInput{
		ToEmail:      user.Email,
		ToName:       strings.TrimSpace(user.FirstName + " " + user.LastName),
		PhoneNumber:  deref(record.PhoneNumber),
		ICCID:        deref(record.ICCID),
		QRCodeBase64: deref(record.QRCode),
	}
	if record.ICCID != nil {
		input.LPAString = qr.LPAString(deref(record.ActivationURL), *record.ICCID, deref(record.ActivationCode))
	}
	return input
}

func (s *service) recordFromLine(userID uuid.UUID, line carrier.Line) *models.Activation {
	record := &models.Activation{
		ID:               uuid.New(),
		UserID:           userID,
		ActivationStatus: enums.ActivationStatusActive,
	}
	if line.ICCID != "" {
		record.ICCID = &line.ICCID
	}
	if line.LineID != "" {
		record.LineID = &line.LineID
	}
	if line.PhoneNumber != "" {
		record.PhoneNumber = &line.PhoneNumber
	}
	if line.SIM.ActivationCode != "" {
		record.ActivationCode = &line.SIM.ActivationCode
	}
	if line.SIM.ActivationURL != "" {
		record.ActivationURL = &line.SIM.ActivationURL
	}
	return record
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
