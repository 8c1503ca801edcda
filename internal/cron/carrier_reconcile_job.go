package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/airmesh-mobile/airmesh-backend/internal/users"
	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

const (
	carrierReconcileJobName = "carrier-reconcile"
	reconcileBatchSize      = 500
)

// Reconciler re-derives local state from the carrier's line list.
type Reconciler interface {
	Reconcile(ctx context.Context, user models.User) error
}

// CarrierReconcileJobParams configure the reconcile job.
type CarrierReconcileJobParams struct {
	Users      users.Repository
	Reconciler Reconciler
	Logger     *logger.Logger
	BatchSize  int
}

// CarrierReconcileJob replays carrier-side lines into the local inventory
// and activation tables, healing drift for every user with a carrier ID.
type CarrierReconcileJob struct {
	users      users.Repository
	reconciler Reconciler
	logg       *logger.Logger
	batchSize  int
}

// NewCarrierReconcileJob builds the reconcile job.
func NewCarrierReconcileJob(params CarrierReconcileJobParams) (*CarrierReconcileJob, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = reconcileBatchSize
	}
	return &CarrierReconcileJob{
		users:      params.Users,
		reconciler: params.Reconciler,
		logg:       params.Logger,
		batchSize:  batch,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *CarrierReconcileJob) Name() string {
	return carrierReconcileJobName
}

// Run reconciles each provisioned user. One user's failure does not stop
// the pass; errors are aggregated and reported together.
func (j *CarrierReconcileJob) Run(ctx context.Context) error {
	provisioned, err := j.users.ListWithCarrierUser(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("list provisioned users: %w", err)
	}

	var errs error
	reconciled := 0
	for _, user := range provisioned {
		if err := j.reconciler.Reconcile(ctx, user); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", user.ID, err))
			continue
		}
		reconciled++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"users":      len(provisioned),
		"reconciled": reconciled,
	}), "carrier reconcile pass complete")
	return errs
}
