package handler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rl1809/pharma-dispatch/internal/adapter/storage"
	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/core/service"
)

const (
	amoxicillin int64 = 7
	gauze       int64 = 9
)

var (
	fixedNow   = time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	testSecret = []byte("test-secret")

	adminActor      = domain.Actor{ID: 1, Role: domain.RoleAdmin}
	doctorActor     = domain.Actor{ID: 2, Role: domain.RoleDoctor}
	pharmacistActor = domain.Actor{ID: 3, Role: domain.RolePharmacist}
	nurseActor      = domain.Actor{ID: 4, Role: domain.RoleNurse}
)

// newTestService builds the service over a fresh SQLite database seeded
// with amoxicillin (min stock 10) and gauze.
func newTestService(t *testing.T) *service.InventoryService {
	t.Helper()

	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLiteStore(db)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, p := range []domain.Product{
		{ID: amoxicillin, Name: "Amoxicillin 500mg", MinStock: 10},
		{ID: gauze, Name: "Sterile gauze", Type: domain.ProductTypeSupply},
	} {
		if err := store.CreateProduct(ctx, &p); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}

	ruleSet := rules.Default().WithClock(func() time.Time { return fixedNow })
	svc := service.NewInventoryService(store, ruleSet, 100)
	t.Cleanup(svc.Close)
	return svc
}
