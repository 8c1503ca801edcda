package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

const inventoryReclaimJobName = "inventory-reclaim"

// InventoryReclaimJobParams configure the reclaim job.
type InventoryReclaimJobParams struct {
	Allocator inventory.Service
	Logger    *logger.Logger
	// TTL is how long an assigned ICCID may sit without a successful
	// activation before it returns to the pool. Zero disables the job
	// (assigned inventory is consumed on payment regardless of outcome).
	TTL time.Duration
}

// InventoryReclaimJob returns stale assigned ICCIDs to the available pool.
type InventoryReclaimJob struct {
	allocator inventory.Service
	logg      *logger.Logger
	ttl       time.Duration
}

// NewInventoryReclaimJob builds the reclaim job.
func NewInventoryReclaimJob(params InventoryReclaimJobParams) (*InventoryReclaimJob, error) {
	if params.Allocator == nil {
		return nil, fmt.Errorf("inventory allocator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &InventoryReclaimJob{
		allocator: params.Allocator,
		logg:      params.Logger,
		ttl:       params.TTL,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *InventoryReclaimJob) Name() string {
	return inventoryReclaimJobName
}

// Run releases assignments older than the TTL that never produced an
// activation record.
func (j *InventoryReclaimJob) Run(ctx context.Context) error {
	if j.ttl <= 0 {
		j.logg.Info(ctx, "inventory reclamation disabled, skipping")
		return nil
	}
	released, err := j.allocator.ReleaseUnactivated(ctx, j.ttl)
	if err != nil {
		return fmt.Errorf("release unactivated inventory: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "released", released), "inventory reclaim pass complete")
	return nil
}
