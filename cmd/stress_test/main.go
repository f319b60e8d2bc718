package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/pharma-dispatch/internal/adapter/storage"
	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/core/service"
)

const (
	initialStock  = 10
	perRequest    = 6
	totalRequests = 50
	queueSize     = 1000
)

var (
	admin      = domain.Actor{ID: 1, Role: domain.RoleAdmin}
	pharmacist = domain.Actor{ID: 3, Role: domain.RolePharmacist}
)

// Every request dispatches against the same batch for its own
// prescription. Exactly one dispatch gets the full quantity, one gets the
// remainder, and the rest find the batch empty.
func main() {
	ctx := context.Background()

	db, store := openStore(ctx)
	defer db.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	product := &domain.Product{Name: fmt.Sprintf("Stress product %d", time.Now().UnixNano()), MinStock: 1}
	if err := store.CreateProduct(ctx, product); err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	inventory := service.NewInventoryService(store, rules.Default(), queueSize, service.WithMaxRetries(20))
	defer inventory.Close()

	// Drain the notification queue in background
	go func() {
		for range inventory.GetEventQueue() {
		}
	}()

	intake, err := inventory.IntakeByRFID(ctx, admin, service.IntakeRequest{
		RFIDCode:   fmt.Sprintf("STRESS-%d", time.Now().UnixNano()),
		ProductID:  product.ID,
		Quantity:   initialStock,
		ExpiryDate: time.Now().AddDate(1, 0, 0),
	})
	if err != nil {
		log.Fatalf("failed to receive stock: %v", err)
	}
	batchID := intake.Batch.ID

	prescriptions := make([]*domain.Prescription, totalRequests)
	for i := range prescriptions {
		p, err := inventory.CreatePrescription(ctx, admin, service.CreatePrescriptionRequest{
			PatientID: int64(1000 + i),
			DoctorID:  2,
			Items:     []service.CreateItemRequest{{ProductID: product.ID, Quantity: perRequest}},
		})
		if err != nil {
			log.Fatalf("failed to create prescription: %v", err)
		}
		prescriptions[i] = p
	}

	// Counters
	var (
		fullCount    atomic.Int32
		partialCount atomic.Int32
		emptyCount   atomic.Int32
		otherCount   atomic.Int32
		dispensed    atomic.Int32
	)

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for _, p := range prescriptions {
		wg.Add(1)
		go func(p *domain.Prescription) {
			defer wg.Done()

			res, err := inventory.DispatchItem(ctx, pharmacist, service.DispatchRequest{
				PrescriptionID: p.ID,
				ItemID:         p.Items[0].ID,
				BatchID:        batchID,
				Quantity:       perRequest,
			})
			switch {
			case err == nil && res.Partial:
				partialCount.Add(1)
				dispensed.Add(int32(res.DispensedQuantity))
			case err == nil:
				fullCount.Add(1)
				dispensed.Add(int32(res.DispensedQuantity))
			case errors.Is(err, domain.ErrBatchEmpty):
				emptyCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}(p)
	}

	wg.Wait()
	elapsed := time.Since(start)

	total, err := inventory.TotalStock(ctx, product.ID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", store.Dialect())
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d x %d units\n", totalRequests, perRequest)
	fmt.Printf("Full:             %d\n", fullCount.Load())
	fmt.Printf("Partial:          %d\n", partialCount.Load())
	fmt.Printf("Batch Empty:      %d\n", emptyCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Dispensed:        %d\n", dispensed.Load())
	fmt.Printf("Final Stock:      %d\n", total)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if fullCount.Load() == 1 && partialCount.Load() == 1 && emptyCount.Load() == totalRequests-2 {
		fmt.Printf("PASS: one full dispatch of %d, one partial of %d, %d found the batch empty\n",
			perRequest, initialStock-perRequest, totalRequests-2)
	} else {
		fmt.Printf("FAIL: expected 1 full/1 partial/%d empty, got %d/%d/%d\n",
			totalRequests-2, fullCount.Load(), partialCount.Load(), emptyCount.Load())
	}

	if total == 0 && int(dispensed.Load()) == initialStock {
		fmt.Println("PASS: Stock depleted to 0 and fully accounted for")
	} else {
		fmt.Printf("FAIL: Expected stock 0 and %d dispensed, got %d and %d\n", initialStock, total, dispensed.Load())
	}
}

// openStore uses MySQL when MYSQL_DSN is set and a throwaway SQLite file
// otherwise.
func openStore(ctx context.Context) (*sql.DB, *storage.SQLStore) {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		db.SetMaxOpenConns(50)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		return db, storage.NewMySQLStore(db)
	}

	dir, err := os.MkdirTemp("", "pharma-stress-*")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	db, err := storage.OpenSQLite(filepath.Join(dir, "stress.db"))
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	return db, storage.NewSQLiteStore(db)
}
