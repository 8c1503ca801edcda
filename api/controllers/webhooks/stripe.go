package webhooks

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/airmesh-mobile/airmesh-backend/api/responses"
	"github.com/airmesh-mobile/airmesh-backend/internal/ledger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
)

// maxWebhookBody caps how much of a webhook payload is read. Stripe events
// are small; anything larger is not a legitimate delivery.
const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies and processes Stripe checkout events. The URL path
// carries a secret segment on top of the signature check, and the ledger
// admits each event exactly once.
func StripeWebhook(svc StripeWebhookService, client stripeClient, gate ledger.Service, pathSecret string, m *metrics.ActivationMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if gate == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "event ledger unavailable"))
			return
		}

		segment := chi.URLParam(r, "pathSecret")
		if pathSecret == "" || subtle.ConstantTimeCompare([]byte(segment), []byte(pathSecret)) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "not found"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			m.IncWebhookEvent("signature_invalid")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature"))
			return
		}

		admitted, err := gate.Admit(ctx, event.ID, string(event.Type))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "admit event"))
			return
		}
		if !admitted {
			m.IncWebhookEvent("duplicate")
			responses.WriteSuccess(w, map[string]string{"status": "already_processed"})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if markErr := gate.MarkResult(ctx, event.ID, enums.WebhookResultFailed); markErr != nil && logg != nil {
				logg.Error(ctx, "failed to record webhook failure", markErr)
			}
			m.IncWebhookEvent("failed")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := gate.MarkResult(ctx, event.ID, enums.WebhookResultSuccess); err != nil && logg != nil {
			logg.Error(ctx, "failed to record webhook success", err)
		}

		m.IncWebhookEvent("processed")
		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteSuccess(w, map[string]string{"status": "success"})
	}
}
