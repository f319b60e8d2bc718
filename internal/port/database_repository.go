package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

// ErrTxConflict marks a transaction that lost a race (deadlock, lock wait
// timeout, unique-key race on the active RFID index, stale version). The
// whole transaction may be retried.
var ErrTxConflict = errors.New("transaction conflict")

// Store runs fn inside one transaction. fn's error rolls everything back;
// a nil return commits.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the storage view available inside a transaction. Lookups return
// (nil, nil) when the row does not exist. Lock* methods take a row lock
// held until the transaction ends.
type Tx interface {
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	LockBatch(ctx context.Context, batchID int64) (*domain.Batch, error)
	// LockActiveBatchByRFID returns the batch holding code with quantity > 0.
	LockActiveBatchByRFID(ctx context.Context, code string) (*domain.Batch, error)
	FindBatchByLot(ctx context.Context, productID int64, lot string) (*domain.Batch, error)
	// InsertBatch sets batch.ID.
	InsertBatch(ctx context.Context, batch *domain.Batch) error
	// UpdateBatchQuantity writes quantity and updatedAt when the stored
	// version equals batch.Version and bumps the version.
	UpdateBatchQuantity(ctx context.Context, batch domain.Batch, quantity int, updatedAt time.Time) error
	TotalStock(ctx context.Context, productID int64) (int, error)
	// EarliestActiveBatch returns the active, unexpired (expiry >= notBefore)
	// batch of productID that expires first, excluding excludeID.
	EarliestActiveBatch(ctx context.Context, productID, excludeID int64, notBefore time.Time) (*domain.Batch, error)
	// ListExpiringBatches returns active batches with expiry before the
	// cutoff, earliest first.
	ListExpiringBatches(ctx context.Context, before time.Time) ([]domain.Batch, error)

	AppendEvent(ctx context.Context, event *domain.DispatchEvent) error

	// InsertPrescription writes the header and all items, setting their IDs.
	InsertPrescription(ctx context.Context, p *domain.Prescription) error
	GetPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error)
	// LockPrescription locks the header row and loads its items.
	LockPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error)
	UpdateItemDispensed(ctx context.Context, itemID int64, dispensed int) error
	UpdatePrescriptionStatus(ctx context.Context, prescriptionID int64, status domain.PrescriptionStatus, updatedAt time.Time) error
}
