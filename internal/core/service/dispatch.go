package service

import (
	"context"
	"fmt"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

type DispatchRequest struct {
	RequestID      string
	PrescriptionID int64
	ItemID         int64
	BatchID        int64
	Quantity       int
	Area           string
}

// DispatchResult reports what was actually dispensed. Partial is set when
// less than the requested quantity left the batch, meaning a follow-up
// dispatch is still owed.
type DispatchResult struct {
	DispensedQuantity   int
	Partial             bool
	Prescription        *domain.Prescription
	Item                domain.PrescriptionItem
	RemainingBatchStock int
	Warnings            []domain.Warning
}

// Dispatcher is the only component allowed to change both stock and
// prescription state, always inside the caller's transaction.
type Dispatcher struct {
	rules         rules.RuleSet
	ledger        *Ledger
	prescriptions *Prescriptions
}

func NewDispatcher(ruleSet rules.RuleSet, ledger *Ledger, prescriptions *Prescriptions) *Dispatcher {
	return &Dispatcher{rules: ruleSet, ledger: ledger, prescriptions: prescriptions}
}

// Dispatch checks every precondition before the first write. The
// prescription row is locked before the batch row.
func (d *Dispatcher) Dispatch(ctx context.Context, tx port.Tx, actor domain.Actor, req DispatchRequest) (*DispatchResult, error) {
	if err := d.rules.Authorize(actor, domain.ActionDispatch); err != nil {
		return nil, err
	}

	prescription, err := d.prescriptions.lock(ctx, tx, req.PrescriptionID)
	if err != nil {
		return nil, err
	}
	if prescription.Status.Terminal() {
		return nil, domain.PrescriptionClosed(prescription.ID, prescription.Status)
	}
	if d.rules.IsPrescriptionExpired(prescription.IssueDate) {
		return nil, domain.PrescriptionExpired(prescription.ID, d.rules.DaysSinceIssue(prescription.IssueDate), d.rules.PrescriptionValidityDays)
	}

	batch, err := d.ledger.lock(ctx, tx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if d.rules.IsExpired(batch.ExpiryDate) {
		days, _ := d.rules.DaysUntilExpiry(batch.ExpiryDate)
		return nil, domain.BatchExpired(batch.ID, -days)
	}
	if batch.Quantity <= 0 {
		return nil, domain.BatchEmpty(batch.ID)
	}

	item := prescription.Item(req.ItemID)
	if item == nil {
		return nil, domain.ItemNotFound(prescription.ID, req.ItemID)
	}
	if batch.ProductID != item.ProductID {
		return nil, domain.ProductMismatch(*batch, *item)
	}
	if err := d.rules.ValidateQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}

	remaining := item.Remaining()
	if remaining <= 0 {
		return nil, domain.ItemComplete(*item)
	}
	if req.Quantity > remaining {
		return nil, domain.ExceedsRequired(*item, req.Quantity)
	}

	actual := min(req.Quantity, batch.Quantity, remaining)

	dec, err := d.ledger.Decrement(ctx, tx, batch.ID, actual, Movement{
		Area:           req.Area,
		Notes:          fmt.Sprintf("prescription %d item %d", prescription.ID, item.ID),
		PrescriptionID: prescription.ID,
		ItemID:         item.ID,
		ActorID:        actor.ID,
	})
	if err != nil {
		return nil, err
	}

	item.QuantityDispensed += actual
	if err := tx.UpdateItemDispensed(ctx, item.ID, item.QuantityDispensed); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if err := d.prescriptions.Recompute(ctx, tx, prescription); err != nil {
		return nil, err
	}

	return &DispatchResult{
		DispensedQuantity:   actual,
		Partial:             actual < req.Quantity,
		Prescription:        prescription,
		Item:                *item,
		RemainingBatchStock: dec.Batch.Quantity,
		Warnings:            dec.Warnings,
	}, nil
}
