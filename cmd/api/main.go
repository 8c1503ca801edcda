package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/airmesh-mobile/airmesh-backend/api/routes"
	"github.com/airmesh-mobile/airmesh-backend/internal/activation"
	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/internal/ledger"
	"github.com/airmesh-mobile/airmesh-backend/internal/notifications"
	"github.com/airmesh-mobile/airmesh-backend/internal/purchases"
	"github.com/airmesh-mobile/airmesh-backend/internal/users"
	stripewebhook "github.com/airmesh-mobile/airmesh-backend/internal/webhooks/stripe"
	"github.com/airmesh-mobile/airmesh-backend/pkg/carrier"
	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
	"github.com/airmesh-mobile/airmesh-backend/pkg/migrate"
	"github.com/airmesh-mobile/airmesh-backend/pkg/pubsub"
	"github.com/airmesh-mobile/airmesh-backend/pkg/redis"
	"github.com/airmesh-mobile/airmesh-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	carrierClient, err := carrier.NewClient(cfg.Carrier)
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier client", err)
		os.Exit(1)
	}

	var events activation.EventPublisher
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create pubsub client", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		events = activation.NewEventPublisher(pubsubClient)
	} else {
		logg.Warn(context.Background(), "pubsub disabled, no gcp project configured")
	}

	activationMetrics := metrics.NewActivationMetrics(prometheus.DefaultRegisterer)

	inventoryRepo := inventory.NewRepository(dbClient.DB())
	allocator, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventoryRepo,
		Logger:     logg,
		Metrics:    activationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	notifier, err := notifications.NewService(notifications.ServiceParams{
		Config:  cfg.Sendgrid,
		Logger:  logg,
		Metrics: activationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	orchestrator, err := activation.NewService(activation.ServiceParams{
		Config:        cfg.Carrier,
		Carrier:       carrierClient,
		Allocator:     allocator,
		Users:         users.NewRepository(dbClient.DB()),
		Activations:   activation.NewRepository(dbClient.DB()),
		Inventory:     inventoryRepo,
		Notifications: notifier,
		Events:        events,
		Tx:            dbClient,
		Logger:        logg,
		Metrics:       activationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activation service", err)
		os.Exit(1)
	}

	eventLedger, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledger.NewRepository(dbClient.DB()),
		Cache:      redisClient,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event ledger", err)
		os.Exit(1)
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orchestrator: orchestrator,
		Purchases:    purchases.NewRepository(dbClient.DB()),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			StripeClient: stripeClient,
			WebhookSvc:   webhookSvc,
			EventLedger:  eventLedger,
			Allocator:    allocator,
			Orchestrator: orchestrator,
			Metrics:      activationMetrics,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
