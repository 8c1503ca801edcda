package activation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
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
)

type stubCarrier struct {
	createResult   carrier.CreateUserResult
	createErr      error
	createCalls    int
	findID         string
	findErr        error
	findCalls      int
	activateResult *carrier.ActivateLineResult
	activateErr    error
	activateCalls  int
	lines          []carrier.Line
	linesErr       error
}

func (s *stubCarrier) CreateUser(ctx context.Context, params carrier.CreateUserParams) (carrier.CreateUserResult, error) {
	s.createCalls++
	if s.createErr != nil {
		return carrier.CreateUserResult{}, s.createErr
	}
	return s.createResult, nil
}

func (s *stubCarrier) FindUserByEmail(ctx context.Context, email string) (string, error) {
	s.findCalls++
	if s.findErr != nil {
		return "", s.findErr
	}
	return s.findID, nil
}

func (s *stubCarrier) ActivateLine(ctx context.Context, params carrier.ActivateLineParams) (*carrier.ActivateLineResult, error) {
	s.activateCalls++
	if s.activateErr != nil {
		return nil, s.activateErr
	}
	return s.activateResult, nil
}

func (s *stubCarrier) GetLines(ctx context.Context, carrierUserID string) ([]carrier.Line, error) {
	if s.linesErr != nil {
		return nil, s.linesErr
	}
	return s.lines, nil
}

type stubNotifier struct {
	sent []notifications.ActivationEmailInput
	err  error
}

func (s *stubNotifier) SendActivationEmail(ctx context.Context, input notifications.ActivationEmailInput) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, input)
	return nil
}

type txRunner struct {
	db *gorm.DB
}

func (r txRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db       *gorm.DB
	carrier  *stubCarrier
	notifier *stubNotifier
	svc      Service
}

func newFixture(t *testing.T, stub *stubCarrier) *fixture {
	t.Helper()

	dsn := "file:activation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.IccidInventory{}, &models.Activation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test"})
	allocator, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(db),
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}

	notifier := &stubNotifier{}
	svc, err := NewService(ServiceParams{
		Config:        config.CarrierConfig{LPAHost: "rsp.oxio.com", DefaultCountry: "US"},
		Carrier:       stub,
		Allocator:     allocator,
		Users:         users.NewRepository(db),
		Activations:   NewRepository(db),
		Inventory:     inventory.NewRepository(db),
		Notifications: notifier,
		Tx:            txRunner{db: db},
		Logger:        logg,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return &fixture{db: db, carrier: stub, notifier: notifier, svc: svc}
}

func (f *fixture) seedInventory(t *testing.T, iccids ...string) {
	t.Helper()
	for _, iccid := range iccids {
		row := models.IccidInventory{
			ICCID:   iccid,
			LPACode: "LPA-" + iccid[len(iccid)-4:],
			Country: "US",
			Status:  enums.IccidStatusAvailable,
		}
		if err := f.db.Create(&row).Error; err != nil {
			t.Fatalf("seed inventory: %v", err)
		}
	}
}

func happyCarrier() *stubCarrier {
	return &stubCarrier{
		createResult: carrier.CreateUserResult{Outcome: carrier.OutcomeCreated, UserID: "oxio_usr_1"},
		activateResult: &carrier.ActivateLineResult{
			Line: carrier.Line{
				LineID:      "line_1",
				PhoneNumber: "+12125551212",
				ICCID:       "8910300000000000001",
				SIM: carrier.SIM{
					ActivationURL:  "rsp.oxio.com",
					ActivationCode: "K2-ABCDEF",
				},
			},
			RawResponse: []byte(`{"id":"line_1"}`),
		},
	}
}

func activateInput() ActivateInput {
	return ActivateInput{
		FirebaseUID: "fb_123",
		Email:       "ada@example.com",
		FirstName:   "Ada",
		LastName:    "Lovelace",
	}
}

func TestActivateEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyCarrier())
	f.seedInventory(t, "8910300000000000001")

	result, err := f.svc.Activate(context.Background(), activateInput())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if result.State != StateNotificationSent {
		t.Fatalf("unexpected state: %s", result.State)
	}

	var user models.User
	if err := f.db.First(&user, "firebase_uid = ?", "fb_123").Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.CarrierUserID == nil || *user.CarrierUserID != "oxio_usr_1" {
		t.Fatalf("carrier user id not stored: %+v", user.CarrierUserID)
	}
	if user.PhoneNumber == nil || *user.PhoneNumber != "+12125551212" {
		t.Fatalf("phone number not stored: %+v", user.PhoneNumber)
	}
	if user.LPAAddress == nil || *user.LPAAddress != "LPA:1$rsp.oxio.com$8910300000000000001$K2-ABCDEF" {
		t.Fatalf("unexpected lpa address: %+v", user.LPAAddress)
	}
	if user.QRCode == nil || *user.QRCode == "" {
		t.Fatal("qr code not stored on user")
	}

	var record models.Activation
	if err := f.db.First(&record, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("load activation: %v", err)
	}
	if record.ActivationStatus != enums.ActivationStatusActive {
		t.Fatalf("unexpected status: %s", record.ActivationStatus)
	}
	if len(record.RawProviderResponse) == 0 {
		t.Fatal("raw provider response not persisted")
	}

	var inventoryRow models.IccidInventory
	if err := f.db.First(&inventoryRow, "iccid = ?", "8910300000000000001").Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inventoryRow.Status != enums.IccidStatusAssigned || inventoryRow.LineID == nil {
		t.Fatalf("inventory not updated: %+v", inventoryRow)
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(f.notifier.sent))
	}
	if f.notifier.sent[0].LPAString != "LPA:1$rsp.oxio.com$8910300000000000001$K2-ABCDEF" {
		t.Fatalf("unexpected email lpa string: %s", f.notifier.sent[0].LPAString)
	}
}

func TestActivateReconcilesExistingCarrierUser(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	stub.createResult = carrier.CreateUserResult{Outcome: carrier.OutcomeAlreadyExists}
	stub.findID = "oxio_usr_existing"

	f := newFixture(t, stub)
	f.seedInventory(t, "8910300000000000001")

	result, err := f.svc.Activate(context.Background(), activateInput())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if stub.createCalls != 1 {
		t.Fatalf("expected a single create attempt, got %d", stub.createCalls)
	}
	if stub.findCalls != 1 {
		t.Fatalf("expected email lookup fallback, got %d calls", stub.findCalls)
	}
	if result.User.CarrierUserID == nil || *result.User.CarrierUserID != "oxio_usr_existing" {
		t.Fatalf("adopted id not stored: %+v", result.User.CarrierUserID)
	}
}

func TestActivateCarrierUserLookupMiss(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	stub.createResult = carrier.CreateUserResult{Outcome: carrier.OutcomeAlreadyExists}
	stub.findErr = carrier.ErrNotFound

	f := newFixture(t, stub)
	f.seedInventory(t, "8910300000000000001")

	_, err := f.svc.Activate(context.Background(), activateInput())
	if err == nil {
		t.Fatal("expected error when reconciliation lookup misses")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Step() != StepCarrierUser {
		t.Fatalf("expected step %s, got %v", StepCarrierUser, err)
	}
}

func TestActivateResumesAfterPersistedRecord(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	f := newFixture(t, stub)
	f.seedInventory(t, "8910300000000000001")
	ctx := context.Background()

	if _, err := f.svc.Activate(ctx, activateInput()); err != nil {
		t.Fatalf("first activate: %v", err)
	}

	result, err := f.svc.Activate(ctx, activateInput())
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if stub.activateCalls != 1 {
		t.Fatalf("activate_line must not repeat for a persisted record, got %d calls", stub.activateCalls)
	}
	if result.State != StateNotificationSent {
		t.Fatalf("unexpected state: %s", result.State)
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected notification re-attempt, got %d emails", len(f.notifier.sent))
	}
}

func TestActivateExhaustedInventory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyCarrier())

	_, err := f.svc.Activate(context.Background(), activateInput())
	if !errors.Is(err, inventory.ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestActivateLineFailureTagged(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	stub.activateErr = errors.New("status 502: upstream unavailable")

	f := newFixture(t, stub)
	f.seedInventory(t, "8910300000000000001")

	_, err := f.svc.Activate(context.Background(), activateInput())
	if err == nil {
		t.Fatal("expected activation failure")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Step() != StepLineActivation {
		t.Fatalf("expected step %s, got %v", StepLineActivation, err)
	}

	// No activation record may exist for a failed line activation.
	var count int64
	if err := f.db.Model(&models.Activation{}).Count(&count).Error; err != nil {
		t.Fatalf("count activations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no activation records, got %d", count)
	}
}

func TestActivateToleratesMissingPhoneAndICCID(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	stub.activateResult = &carrier.ActivateLineResult{
		Line: carrier.Line{
			LineID: "line_1",
			SIM:    carrier.SIM{},
		},
		RawResponse: []byte(`{"id":"line_1"}`),
	}

	f := newFixture(t, stub)
	f.seedInventory(t, "8910300000000000001")

	result, err := f.svc.Activate(context.Background(), activateInput())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	record := result.Activation
	if record.PhoneNumber != nil {
		t.Fatalf("expected null phone number, got %v", *record.PhoneNumber)
	}
	// The allocated inventory row backfills the missing iccid.
	if record.ICCID == nil || *record.ICCID != "8910300000000000001" {
		t.Fatalf("expected fallback iccid, got %+v", record.ICCID)
	}
	if record.ActivationCode == nil || *record.ActivationCode != "LPA-0001" {
		t.Fatalf("expected fallback activation code, got %+v", record.ActivationCode)
	}
}

func TestActivateNotificationFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyCarrier())
	f.seedInventory(t, "8910300000000000001")
	f.notifier.err = errors.New("smtp unavailable")

	result, err := f.svc.Activate(context.Background(), activateInput())
	if err != nil {
		t.Fatalf("activate must succeed despite email failure: %v", err)
	}
	if result.State != StateRecordPersisted {
		t.Fatalf("unexpected state: %s", result.State)
	}

	var count int64
	if err := f.db.Model(&models.Activation{}).Count(&count).Error; err != nil {
		t.Fatalf("count activations: %v", err)
	}
	if count != 1 {
		t.Fatalf("activation record must survive email failure, got %d", count)
	}
}

func TestResendNotification(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyCarrier())
	f.seedInventory(t, "8910300000000000001")
	ctx := context.Background()

	if _, err := f.svc.Activate(ctx, activateInput()); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := f.svc.ResendNotification(ctx, "fb_123"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(f.notifier.sent))
	}
	if !strings.HasPrefix(f.notifier.sent[1].LPAString, "LPA:1$") {
		t.Fatalf("resend must rebuild from persisted fields: %+v", f.notifier.sent[1])
	}
}

func TestResendNotificationUnknownUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyCarrier())
	err := f.svc.ResendNotification(context.Background(), "fb_missing")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReconcileReplaysCarrierLines(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	stub.lines = []carrier.Line{
		{
			LineID:      "line_7",
			PhoneNumber: "+12125550007",
			ICCID:       "8910300000000000007",
			Status:      "ACTIVE",
			SIM:         carrier.SIM{ActivationURL: "rsp.oxio.com", ActivationCode: "K2-SEVEN"},
		},
	}

	f := newFixture(t, stub)
	carrierUserID := "oxio_usr_1"
	user := models.User{
		ID:            uuid.New(),
		FirebaseUID:   "fb_rec",
		Email:         "rec@example.com",
		CarrierUserID: &carrierUserID,
	}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if err := f.svc.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var row models.IccidInventory
	if err := f.db.First(&row, "iccid = ?", "8910300000000000007").Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if row.Status != enums.IccidStatusAssigned || row.LineID == nil || *row.LineID != "line_7" {
		t.Fatalf("inventory not replayed: %+v", row)
	}

	var record models.Activation
	if err := f.db.First(&record, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("load activation: %v", err)
	}
	if record.PhoneNumber == nil || *record.PhoneNumber != "+12125550007" {
		t.Fatalf("activation not replayed: %+v", record)
	}

	// Replaying again converges on the same rows.
	if err := f.svc.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	var count int64
	if err := f.db.Model(&models.Activation{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		t.Fatalf("count activations: %v", err)
	}
	if count != 1 {
		t.Fatalf("reconcile must upsert, got %d rows", count)
	}
}

func TestReconcileSkipsLinesWithoutICCID(t *testing.T) {
	t.Parallel()

	stub := happyCarrier()
	stub.lines = []carrier.Line{
		{
			LineID:      "line_pending",
			PhoneNumber: "+12125550008",
			Status:      "PENDING",
		},
		{
			LineID:      "line_8",
			PhoneNumber: "+12125550009",
			ICCID:       "8910300000000000008",
			Status:      "ACTIVE",
			SIM:         carrier.SIM{ActivationURL: "rsp.oxio.com", ActivationCode: "K2-EIGHT"},
		},
	}

	f := newFixture(t, stub)
	carrierUserID := "oxio_usr_1"
	user := models.User{
		ID:            uuid.New(),
		FirebaseUID:   "fb_noiccid",
		Email:         "noiccid@example.com",
		CarrierUserID: &carrierUserID,
	}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	// Two passes: a line without an iccid has no convergence key, so it must
	// not accumulate a fresh record per run.
	for i := 0; i < 2; i++ {
		if err := f.svc.Reconcile(context.Background(), user); err != nil {
			t.Fatalf("reconcile pass %d: %v", i+1, err)
		}
	}

	var count int64
	if err := f.db.Model(&models.Activation{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		t.Fatalf("count activations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the iccid-bearing line recorded, got %d rows", count)
	}

	var record models.Activation
	if err := f.db.First(&record, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("load activation: %v", err)
	}
	if record.LineID == nil || *record.LineID != "line_8" {
		t.Fatalf("unexpected line recorded: %+v", record.LineID)
	}
}
