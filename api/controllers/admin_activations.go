package controllers

import (
	"net/http"

	"github.com/airmesh-mobile/airmesh-backend/api/responses"
	"github.com/airmesh-mobile/airmesh-backend/api/validators"
	"github.com/airmesh-mobile/airmesh-backend/internal/activation"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

type fixActivationRequest struct {
	FirebaseUID string `json:"firebase_uid" validate:"required_without=Email"`
	Email       string `json:"email" validate:"omitempty,email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

type resendEmailRequest struct {
	FirebaseUID string `json:"firebase_uid" validate:"required"`
}

// AdminActivationFix re-runs the activation state machine for a customer
// whose provisioning stalled. Completed steps are skipped, so this is safe
// to call any number of times.
func AdminActivationFix(orchestrator activation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req fixActivationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := orchestrator.Activate(ctx, activation.ActivateInput{
			FirebaseUID: req.FirebaseUID,
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// AdminActivationResendEmail re-sends the activation email from persisted
// provisioning data without touching the carrier.
func AdminActivationResendEmail(orchestrator activation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req resendEmailRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := orchestrator.ResendNotification(ctx, req.FirebaseUID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "sent"})
	}
}
