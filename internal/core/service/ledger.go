package service

import (
	"context"
	"fmt"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

// Movement describes why a batch quantity changes. It is copied onto the
// stock history row.
type Movement struct {
	Area           string
	Notes          string
	PrescriptionID int64
	ItemID         int64
	ActorID        int64
	// AllowExpired lets a decrement drain an expired batch (disposal).
	AllowExpired bool
}

// DecrementResult is the batch after a successful decrement together with
// the product total and any advisory warnings.
type DecrementResult struct {
	Batch    *domain.Batch
	Total    int
	Warnings []domain.Warning
}

// Ledger is the only writer of batch quantities. Every write locks the row
// first and appends a DispatchEvent in the same transaction.
type Ledger struct {
	rules rules.RuleSet
}

func NewLedger(ruleSet rules.RuleSet) *Ledger {
	return &Ledger{rules: ruleSet}
}

// Receive inserts a new batch holding batch.Quantity and records the add.
func (l *Ledger) Receive(ctx context.Context, tx port.Tx, batch *domain.Batch, m Movement) error {
	if err := l.rules.ValidateQuantity("quantity", batch.Quantity); err != nil {
		return err
	}

	now := l.rules.Now().UTC()
	batch.EntryDate = now
	batch.UpdatedAt = now
	if err := tx.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	return l.record(ctx, tx, *batch, 0, batch.Quantity, domain.StockActionAdd, m)
}

func (l *Ledger) Increment(ctx context.Context, tx port.Tx, batchID int64, quantity int, m Movement) (*domain.Batch, error) {
	if err := l.rules.ValidateQuantity("quantity", quantity); err != nil {
		return nil, err
	}

	batch, err := l.lock(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}

	return l.apply(ctx, tx, batch, batch.Quantity+quantity, domain.StockActionAdd, m)
}

// Decrement removes quantity from a batch. It never clamps: a request above
// the batch quantity fails before any write.
func (l *Ledger) Decrement(ctx context.Context, tx port.Tx, batchID int64, quantity int, m Movement) (*DecrementResult, error) {
	if err := l.rules.ValidateQuantity("quantity", quantity); err != nil {
		return nil, err
	}

	batch, err := l.lock(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}

	if !m.AllowExpired && l.rules.IsExpired(batch.ExpiryDate) {
		days, _ := l.rules.DaysUntilExpiry(batch.ExpiryDate)
		return nil, domain.BatchExpired(batch.ID, -days)
	}
	if quantity > batch.Quantity {
		return nil, domain.InsufficientStock(batch.ID, batch.Quantity, quantity)
	}

	updated, err := l.apply(ctx, tx, batch, batch.Quantity-quantity, domain.StockActionRemove, m)
	if err != nil {
		return nil, err
	}

	total, err := tx.TotalStock(ctx, updated.ProductID)
	if err != nil {
		return nil, fmt.Errorf("total stock: %w", err)
	}

	warnings, err := l.warnings(ctx, tx, *updated, total)
	if err != nil {
		return nil, err
	}

	return &DecrementResult{Batch: updated, Total: total, Warnings: warnings}, nil
}

// TotalStock sums quantity across all batches of a product using the
// transaction's view.
func (l *Ledger) TotalStock(ctx context.Context, tx port.Tx, productID int64) (int, error) {
	total, err := tx.TotalStock(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("total stock: %w", err)
	}
	return total, nil
}

func (l *Ledger) lock(ctx context.Context, tx port.Tx, batchID int64) (*domain.Batch, error) {
	batch, err := tx.LockBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("lock batch: %w", err)
	}
	if batch == nil {
		return nil, domain.BatchNotFound(batchID)
	}
	return batch, nil
}

func (l *Ledger) apply(ctx context.Context, tx port.Tx, batch *domain.Batch, quantity int, action domain.StockAction, m Movement) (*domain.Batch, error) {
	if quantity < 0 {
		return nil, domain.InsufficientStock(batch.ID, batch.Quantity, batch.Quantity-quantity)
	}

	now := l.rules.Now().UTC()
	if err := tx.UpdateBatchQuantity(ctx, *batch, quantity, now); err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}

	previous := batch.Quantity
	updated := *batch
	updated.Quantity = quantity
	updated.Version++
	updated.UpdatedAt = now

	if err := l.record(ctx, tx, updated, previous, quantity, action, m); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (l *Ledger) record(ctx context.Context, tx port.Tx, batch domain.Batch, previous, current int, action domain.StockAction, m Movement) error {
	event := &domain.DispatchEvent{
		ProductID:        batch.ProductID,
		BatchID:          batch.ID,
		PreviousQuantity: previous,
		NewQuantity:      current,
		Action:           action,
		Area:             m.Area,
		Notes:            m.Notes,
		PrescriptionID:   m.PrescriptionID,
		ItemID:           m.ItemID,
		ActorID:          m.ActorID,
		CreatedAt:        l.rules.Now().UTC(),
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append stock event: %w", err)
	}
	return nil
}

func (l *Ledger) warnings(ctx context.Context, tx port.Tx, batch domain.Batch, total int) ([]domain.Warning, error) {
	var warnings []domain.Warning

	product, err := tx.GetProduct(ctx, batch.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product != nil && total < product.MinStock {
		warnings = append(warnings, domain.Warning{
			Kind:      domain.WarningLowStock,
			ProductID: product.ID,
			Total:     total,
			Minimum:   product.MinStock,
		})
	}

	earliest, err := tx.EarliestActiveBatch(ctx, batch.ProductID, batch.ID, l.rules.Today())
	if err != nil {
		return nil, fmt.Errorf("earliest batch: %w", err)
	}
	if earliest != nil && earliest.ExpiryDate.Before(batch.ExpiryDate) {
		warnings = append(warnings, domain.Warning{
			Kind:       domain.WarningFIFO,
			ProductID:  batch.ProductID,
			BatchID:    earliest.ID,
			ExpiryDate: earliest.ExpiryDate,
		})
	}

	return warnings, nil
}
