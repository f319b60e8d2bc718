package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

type IntakeOutcome string

const (
	IntakeCreated  IntakeOutcome = "created"
	IntakeMerged   IntakeOutcome = "merged"
	IntakeRejected IntakeOutcome = "rejected"
)

type IntakeRequest struct {
	RequestID  string
	RFIDCode   string
	ProductID  int64
	Quantity   int
	LotNumber  string
	ExpiryDate time.Time
	Area       string
}

// IntakeResult holds the created or merged batch. For a rejected intake,
// Batch is the conflicting batch and Conflict describes it.
type IntakeResult struct {
	Outcome          IntakeOutcome
	Batch            *domain.Batch
	PreviousQuantity int
	Conflict         *domain.ConflictInfo
}

// Resolver decides what registering stock under an RFID tag means: a new
// batch, a merge into the tag's active batch, or a cross-product conflict.
type Resolver struct {
	rules  rules.RuleSet
	ledger *Ledger
}

func NewResolver(ruleSet rules.RuleSet, ledger *Ledger) *Resolver {
	return &Resolver{rules: ruleSet, ledger: ledger}
}

// Resolve never mutates anything for a rejected intake.
func (r *Resolver) Resolve(ctx context.Context, tx port.Tx, actor domain.Actor, req IntakeRequest) (*IntakeResult, error) {
	if !r.rules.ValidRFID(req.RFIDCode) {
		return nil, domain.InvalidRFID(req.RFIDCode)
	}
	if err := r.rules.ValidateQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if req.ProductID == 0 {
		return nil, domain.MissingField("product_id")
	}

	product, err := tx.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, domain.ProductNotFound(req.ProductID)
	}

	active, err := tx.LockActiveBatchByRFID(ctx, req.RFIDCode)
	if err != nil {
		return nil, fmt.Errorf("lock active batch: %w", err)
	}

	m := Movement{Area: req.Area, Notes: "rfid intake " + req.RFIDCode, ActorID: actor.ID}

	if active != nil {
		if active.ProductID != req.ProductID {
			return r.reject(ctx, tx, active)
		}

		merged, err := r.ledger.Increment(ctx, tx, active.ID, req.Quantity, m)
		if err != nil {
			return nil, err
		}
		return &IntakeResult{Outcome: IntakeMerged, Batch: merged, PreviousQuantity: active.Quantity}, nil
	}

	if req.ExpiryDate.IsZero() {
		return nil, domain.MissingField("expiry_date")
	}
	if r.rules.IsExpired(req.ExpiryDate) {
		days, _ := r.rules.DaysUntilExpiry(req.ExpiryDate)
		return nil, domain.ExpiryInPast(-days)
	}

	lot := strings.TrimSpace(req.LotNumber)
	if lot == "" {
		lot = newLotNumber()
	} else {
		existing, err := tx.FindBatchByLot(ctx, req.ProductID, lot)
		if err != nil {
			return nil, fmt.Errorf("find lot: %w", err)
		}
		if existing != nil {
			return nil, domain.DuplicateLot(req.ProductID, lot)
		}
	}

	batch := &domain.Batch{
		ProductID:  req.ProductID,
		LotNumber:  lot,
		ExpiryDate: r.rules.Date(req.ExpiryDate),
		Quantity:   req.Quantity,
		RFIDCode:   req.RFIDCode,
	}
	if err := r.ledger.Receive(ctx, tx, batch, m); err != nil {
		return nil, err
	}

	return &IntakeResult{Outcome: IntakeCreated, Batch: batch}, nil
}

func (r *Resolver) reject(ctx context.Context, tx port.Tx, active *domain.Batch) (*IntakeResult, error) {
	owner, err := tx.GetProduct(ctx, active.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	conflict := &domain.ConflictInfo{
		BatchID:    active.ID,
		ProductID:  active.ProductID,
		Quantity:   active.Quantity,
		LotNumber:  active.LotNumber,
		ExpiryDate: active.ExpiryDate,
	}
	if owner != nil {
		conflict.ProductName = owner.Name
	}

	return &IntakeResult{Outcome: IntakeRejected, Batch: active, Conflict: conflict}, nil
}

func newLotNumber() string {
	return "LOT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
