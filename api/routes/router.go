package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airmesh-mobile/airmesh-backend/api/controllers"
	webhookcontrollers "github.com/airmesh-mobile/airmesh-backend/api/controllers/webhooks"
	"github.com/airmesh-mobile/airmesh-backend/api/middleware"
	"github.com/airmesh-mobile/airmesh-backend/internal/activation"
	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/internal/ledger"
	stripewebhook "github.com/airmesh-mobile/airmesh-backend/internal/webhooks/stripe"
	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
	"github.com/airmesh-mobile/airmesh-backend/pkg/redis"
	"github.com/airmesh-mobile/airmesh-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *db.Client
	Redis        *redis.Client
	StripeClient *stripe.Client
	WebhookSvc   *stripewebhook.Service
	EventLedger  ledger.Service
	Allocator    inventory.Service
	Orchestrator activation.Service
	Metrics      *metrics.ActivationMetrics
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadyDeps(p.DB, p.Redis)))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe/{pathSecret}", webhookcontrollers.StripeWebhook(
			p.WebhookSvc,
			p.StripeClient,
			p.EventLedger,
			cfg.Admin.WebhookPathSecret,
			p.Metrics,
			logg,
		))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminKey(cfg.Admin, logg))
		r.Use(middleware.AdminRateLimit(p.Redis, cfg.RateLimit.AdminWindow, cfg.RateLimit.AdminLimit, logg))

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/", controllers.AdminInventoryRestock(p.Allocator, logg))
			r.Get("/", controllers.AdminInventoryStock(p.Allocator, logg))
		})

		r.Route("/activations", func(r chi.Router) {
			r.Post("/fix", controllers.AdminActivationFix(p.Orchestrator, logg))
			r.Post("/resend-email", controllers.AdminActivationResendEmail(p.Orchestrator, logg))
		})
	})

	return r
}
