package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/airmesh-mobile/airmesh-backend/pkg/db/models"
	"github.com/airmesh-mobile/airmesh-backend/pkg/enums"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.IccidInventory{}, &models.Activation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(db),
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedAvailable(t *testing.T, db *gorm.DB, iccids ...string) {
	t.Helper()
	for _, iccid := range iccids {
		row := models.IccidInventory{
			ICCID:   iccid,
			LPACode: "K2-" + iccid[len(iccid)-4:],
			Country: "US",
			Status:  enums.IccidStatusAvailable,
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed %s: %v", iccid, err)
		}
	}
}

func TestAllocateClaimsAvailableRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	seedAvailable(t, db, "8910300000000000001")
	userID := uuid.New()

	row, err := svc.Allocate(context.Background(), userID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if row.Status != enums.IccidStatusAssigned {
		t.Fatalf("expected assigned status, got %s", row.Status)
	}
	if row.AllocatedToUser == nil || *row.AllocatedToUser != userID {
		t.Fatalf("expected allocation to user %s, got %+v", userID, row.AllocatedToUser)
	}
	if row.AssignedAt == nil {
		t.Fatal("expected assigned_at to be set")
	}
}

func TestAllocateIdempotentPerUser(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	seedAvailable(t, db, "8910300000000000001", "8910300000000000002")
	userID := uuid.New()
	ctx := context.Background()

	first, err := svc.Allocate(ctx, userID)
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	second, err := svc.Allocate(ctx, userID)
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if first.ICCID != second.ICCID {
		t.Fatalf("expected the same iccid on repeat allocation, got %s then %s", first.ICCID, second.ICCID)
	}

	var available int64
	if err := db.Model(&models.IccidInventory{}).
		Where("status = ?", enums.IccidStatusAvailable).
		Count(&available).Error; err != nil {
		t.Fatalf("count available: %v", err)
	}
	if available != 1 {
		t.Fatalf("repeat allocation must not consume stock, available=%d", available)
	}
}

func TestAllocateDistinctUsersGetDistinctRows(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	seedAvailable(t, db, "8910300000000000001", "8910300000000000002")
	ctx := context.Background()

	first, err := svc.Allocate(ctx, uuid.New())
	if err != nil {
		t.Fatalf("allocate a: %v", err)
	}
	second, err := svc.Allocate(ctx, uuid.New())
	if err != nil {
		t.Fatalf("allocate b: %v", err)
	}
	if first.ICCID == second.ICCID {
		t.Fatalf("two users must never share an iccid: %s", first.ICCID)
	}
}

// racingRepo loses the first claim to a rival allocator, the way a concurrent
// request would take the candidate between the select and the update.
type racingRepo struct {
	Repository
	rival  uuid.UUID
	stolen bool
}

func (r *racingRepo) Claim(ctx context.Context, iccid string, userID uuid.UUID, at time.Time) (bool, error) {
	if !r.stolen {
		r.stolen = true
		if _, err := r.Repository.Claim(ctx, iccid, r.rival, at); err != nil {
			return false, err
		}
		return false, nil
	}
	return r.Repository.Claim(ctx, iccid, userID, at)
}

func TestAllocateRetriesLostClaimRace(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	seedAvailable(t, db, "8910300000000000001", "8910300000000000002")
	repo := &racingRepo{Repository: NewRepository(db), rival: uuid.New()}
	svc, err := NewService(ServiceParams{
		Repository: repo,
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	userID := uuid.New()
	row, err := svc.Allocate(context.Background(), userID)
	if err != nil {
		t.Fatalf("a lost race with stock remaining must not fail: %v", err)
	}
	if row.AllocatedToUser == nil || *row.AllocatedToUser != userID {
		t.Fatalf("expected allocation to user %s, got %+v", userID, row.AllocatedToUser)
	}
	if row.ICCID != "8910300000000000002" {
		t.Fatalf("expected the next candidate after the lost race, got %s", row.ICCID)
	}
}

func TestAllocateConcurrentUsersOneRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection serializes sqlite access; the claim ordering under
	// contention is still exercised.
	sqlDB.SetMaxOpenConns(1)

	svc := newTestService(t, db)
	seedAvailable(t, db, "8910300000000000001")

	type outcome struct {
		row *models.IccidInventory
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			row, err := svc.Allocate(context.Background(), uuid.New())
			results <- outcome{row: row, err: err}
		}()
	}

	var winners, exhausted int
	for i := 0; i < 2; i++ {
		res := <-results
		switch {
		case res.err == nil:
			winners++
		case errors.Is(res.err, ErrNoneAvailable):
			exhausted++
		default:
			t.Fatalf("unexpected allocate error: %v", res.err)
		}
	}
	if winners != 1 || exhausted != 1 {
		t.Fatalf("expected one winner and one exhaustion, got %d/%d", winners, exhausted)
	}
}

func TestAllocateExhausted(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	seedAvailable(t, db, "8910300000000000001")
	ctx := context.Background()

	if _, err := svc.Allocate(ctx, uuid.New()); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	_, err := svc.Allocate(ctx, uuid.New())
	if !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestRestock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	inserted, err := svc.Restock(ctx, []RestockItem{
		{ICCID: "8910300000000000001", LPACode: "K2-0001", Country: "us"},
		{ICCID: "8910300000000000002", LPACode: "K2-0002", Country: "US"},
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}

	// Duplicate upload is dropped silently.
	inserted, err = svc.Restock(ctx, []RestockItem{
		{ICCID: "8910300000000000002", LPACode: "K2-0002", Country: "US"},
		{ICCID: "8910300000000000003", LPACode: "K2-0003", Country: "US"},
	})
	if err != nil {
		t.Fatalf("restock with duplicate: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", inserted)
	}

	var country string
	if err := db.Model(&models.IccidInventory{}).
		Where("iccid = ?", "8910300000000000001").
		Pluck("country", &country).Error; err != nil {
		t.Fatalf("load country: %v", err)
	}
	if country != "US" {
		t.Fatalf("expected country normalized to US, got %q", country)
	}
}

func TestStockCounts(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	seedAvailable(t, db, "8910300000000000001", "8910300000000000002", "8910300000000000003")
	ctx := context.Background()

	if _, err := svc.Allocate(ctx, uuid.New()); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	stock, err := svc.StockCounts(ctx)
	if err != nil {
		t.Fatalf("stock counts: %v", err)
	}
	if stock.Available != 2 || stock.Assigned != 1 {
		t.Fatalf("unexpected stock: %+v", stock)
	}
}

func TestReleaseUnactivated(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	seedAvailable(t, db, "8910300000000000001", "8910300000000000002")

	stale := time.Now().UTC().Add(-2 * time.Hour)
	svcStale, err := NewService(ServiceParams{
		Repository: NewRepository(db),
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Now:        func() time.Time { return stale },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	staleUser := uuid.New()
	activatedUser := uuid.New()
	first, err := svcStale.Allocate(ctx, staleUser)
	if err != nil {
		t.Fatalf("allocate stale: %v", err)
	}
	second, err := svcStale.Allocate(ctx, activatedUser)
	if err != nil {
		t.Fatalf("allocate activated: %v", err)
	}

	// The second assignment produced a successful activation and must survive.
	activation := models.Activation{
		ID:               uuid.New(),
		UserID:           activatedUser,
		ICCID:            &second.ICCID,
		ActivationStatus: enums.ActivationStatusActive,
	}
	if err := db.Create(&activation).Error; err != nil {
		t.Fatalf("seed activation: %v", err)
	}

	svc := newTestService(t, db)
	released, err := svc.ReleaseUnactivated(ctx, time.Hour)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released, got %d", released)
	}

	var row models.IccidInventory
	if err := db.First(&row, "iccid = ?", first.ICCID).Error; err != nil {
		t.Fatalf("load released: %v", err)
	}
	if row.Status != enums.IccidStatusAvailable || row.AllocatedToUser != nil {
		t.Fatalf("expected released row, got %+v", row)
	}

	var kept models.IccidInventory
	if err := db.First(&kept, "iccid = ?", second.ICCID).Error; err != nil {
		t.Fatalf("load kept: %v", err)
	}
	if kept.Status != enums.IccidStatusAssigned {
		t.Fatalf("activated assignment must not be reclaimed, got %+v", kept)
	}
}

func TestReleaseUnactivatedDisabled(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newTestDB(t))
	released, err := svc.ReleaseUnactivated(context.Background(), 0)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released != 0 {
		t.Fatalf("ttl 0 must be a no-op, got %d", released)
	}
}
