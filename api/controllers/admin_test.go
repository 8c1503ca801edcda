package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/airmesh-mobile/airmesh-backend/internal/activation"
	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

type stubAllocator struct {
	restocked   []inventory.RestockItem
	restockErr  error
	stockCounts inventory.StockCounts
}

func (s *stubAllocator) Allocate(ctx context.Context, userID uuid.UUID) (*models.IccidInventory, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (s *stubAllocator) Restock(ctx context.Context, items []inventory.RestockItem) (int64, error) {
	if s.restockErr != nil {
		return 0, s.restockErr
	}
	s.restocked = append(s.restocked, items...)
	return int64(len(items)), nil
}

func (s *stubAllocator) StockCounts(ctx context.Context) (inventory.StockCounts, error) {
	return s.stockCounts, nil
}

func (s *stubAllocator) ReleaseUnactivated(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

type stubOrchestrator struct {
	inputs    []activation.ActivateInput
	result    *activation.Result
	err       error
	resent    []string
	resendErr error
}

func (s *stubOrchestrator) Activate(ctx context.Context, input activation.ActivateInput) (*activation.Result, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubOrchestrator) ResendNotification(ctx context.Context, firebaseUID string) error {
	s.resent = append(s.resent, firebaseUID)
	return s.resendErr
}

func (s *stubOrchestrator) Reconcile(ctx context.Context, user models.User) error {
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func TestAdminInventoryRestock(t *testing.T) {
	allocator := &stubAllocator{}
	handler := AdminInventoryRestock(allocator, testLogger())

	body := `{"items":[{"iccid":"8910300000000000001","lpa_code":"LPA-1","country":"US"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/inventory", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(allocator.restocked) != 1 {
		t.Fatalf("expected one restocked item, got %d", len(allocator.restocked))
	}
	if !strings.Contains(rec.Body.String(), `"accepted":1`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAdminInventoryRestockValidation(t *testing.T) {
	cases := map[string]string{
		"empty items":   `{"items":[]}`,
		"short iccid":   `{"items":[{"iccid":"123","lpa_code":"LPA-1","country":"US"}]}`,
		"bad country":   `{"items":[{"iccid":"8910300000000000001","lpa_code":"LPA-1","country":"USA"}]}`,
		"missing code":  `{"items":[{"iccid":"8910300000000000001","country":"US"}]}`,
		"unknown field": `{"items":[],"extra":true}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			allocator := &stubAllocator{}
			handler := AdminInventoryRestock(allocator, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/inventory", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if len(allocator.restocked) != 0 {
				t.Fatalf("invalid payload must not restock")
			}
		})
	}
}

func TestAdminInventoryStock(t *testing.T) {
	allocator := &stubAllocator{stockCounts: inventory.StockCounts{Available: 12, Assigned: 3}}
	handler := AdminInventoryStock(allocator, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/inventory", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"available":12`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAdminActivationFix(t *testing.T) {
	orchestrator := &stubOrchestrator{result: &activation.Result{State: activation.StateNotificationSent}}
	handler := AdminActivationFix(orchestrator, testLogger())

	body := `{"firebase_uid":"fb_123","email":"kai@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/activations/fix", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(orchestrator.inputs) != 1 || orchestrator.inputs[0].FirebaseUID != "fb_123" {
		t.Fatalf("unexpected orchestrator input: %+v", orchestrator.inputs)
	}
	if !strings.Contains(rec.Body.String(), "notification_sent") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAdminActivationFixRequiresIdentity(t *testing.T) {
	orchestrator := &stubOrchestrator{}
	handler := AdminActivationFix(orchestrator, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/activations/fix", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(orchestrator.inputs) != 0 {
		t.Fatalf("identity-less request must not reach the orchestrator")
	}
}

func TestAdminActivationFixSurfacesExhaustion(t *testing.T) {
	orchestrator := &stubOrchestrator{err: inventory.ErrNoneAvailable}
	handler := AdminActivationFix(orchestrator, testLogger())

	body := `{"firebase_uid":"fb_123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/activations/fix", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for exhausted inventory, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVENTORY_EXHAUSTED") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAdminActivationResendEmail(t *testing.T) {
	orchestrator := &stubOrchestrator{}
	handler := AdminActivationResendEmail(orchestrator, testLogger())

	body := `{"firebase_uid":"fb_456"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/activations/resend-email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(orchestrator.resent) != 1 || orchestrator.resent[0] != "fb_456" {
		t.Fatalf("unexpected resend calls: %v", orchestrator.resent)
	}
}

func TestAdminActivationResendEmailUnknownUser(t *testing.T) {
	orchestrator := &stubOrchestrator{resendErr: pkgerrors.New(pkgerrors.CodeNotFound, "user not found")}
	handler := AdminActivationResendEmail(orchestrator, testLogger())

	body := `{"firebase_uid":"fb_none"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/activations/resend-email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
