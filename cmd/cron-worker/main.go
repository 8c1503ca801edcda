package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/airmesh-mobile/airmesh-backend/internal/activation"
	"github.com/airmesh-mobile/airmesh-backend/internal/cron"
	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/internal/notifications"
	"github.com/airmesh-mobile/airmesh-backend/internal/users"
	"github.com/airmesh-mobile/airmesh-backend/pkg/carrier"
	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
	"github.com/airmesh-mobile/airmesh-backend/pkg/migrate"
	"github.com/airmesh-mobile/airmesh-backend/pkg/redis"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	carrierClient, err := carrier.NewClient(cfg.Carrier)
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier client", err)
		os.Exit(1)
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

	usersRepo := users.NewRepository(dbClient.DB())
	orchestrator, err := activation.NewService(activation.ServiceParams{
		Config:        cfg.Carrier,
		Carrier:       carrierClient,
		Allocator:     allocator,
		Users:         usersRepo,
		Activations:   activation.NewRepository(dbClient.DB()),
		Inventory:     inventoryRepo,
		Notifications: notifier,
		Tx:            dbClient,
		Logger:        logg,
		Metrics:       activationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activation service", err)
		os.Exit(1)
	}

	reclaimJob, err := cron.NewInventoryReclaimJob(cron.InventoryReclaimJobParams{
		Allocator: allocator,
		Logger:    logg,
		TTL:       cfg.Cron.ReclaimTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory reclaim job", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewCarrierReconcileJob(cron.CarrierReconcileJobParams{
		Users:      usersRepo,
		Reconciler: orchestrator,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier reconcile job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reclaimJob, reconcileJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
