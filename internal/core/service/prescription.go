package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

type CreatePrescriptionRequest struct {
	PatientID int64
	DoctorID  int64
	IssueDate time.Time
	Notes     string
	Items     []CreateItemRequest
}

type CreateItemRequest struct {
	ProductID    int64
	Quantity     int
	Instructions string
}

// Prescriptions owns prescription status. Transitions:
//
//	pending -> partial -> fulfilled
//	pending|partial -> cancelled   (only while nothing was dispensed)
type Prescriptions struct {
	rules rules.RuleSet
}

func NewPrescriptions(ruleSet rules.RuleSet) *Prescriptions {
	return &Prescriptions{rules: ruleSet}
}

func (p *Prescriptions) Create(ctx context.Context, tx port.Tx, actor domain.Actor, req CreatePrescriptionRequest) (*domain.Prescription, error) {
	if err := p.rules.Authorize(actor, domain.ActionCreatePrescription); err != nil {
		return nil, err
	}

	if req.PatientID == 0 {
		return nil, domain.MissingField("patient_id")
	}
	doctorID := req.DoctorID
	if doctorID == 0 {
		if actor.Role != domain.RoleDoctor {
			return nil, domain.MissingField("doctor_id")
		}
		doctorID = actor.ID
	}

	issue := p.rules.Today()
	if !req.IssueDate.IsZero() {
		issue = p.rules.Date(req.IssueDate)
	}
	if ahead := -p.rules.DaysSinceIssue(issue); ahead > 0 {
		return nil, domain.IssueDateInFuture(ahead)
	}

	if len(req.Items) == 0 {
		return nil, domain.NoItems()
	}
	if len(req.Items) > p.rules.MaxPrescriptionItems {
		return nil, domain.TooManyItems(len(req.Items), p.rules.MaxPrescriptionItems)
	}

	items := make([]domain.PrescriptionItem, 0, len(req.Items))
	for i, it := range req.Items {
		if it.ProductID == 0 {
			return nil, domain.MissingField(fmt.Sprintf("items[%d].product_id", i))
		}
		if err := p.rules.ValidateQuantity(fmt.Sprintf("items[%d].quantity", i), it.Quantity); err != nil {
			return nil, err
		}

		product, err := tx.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil {
			return nil, domain.ProductNotFound(it.ProductID)
		}

		items = append(items, domain.PrescriptionItem{
			ProductID:        it.ProductID,
			QuantityRequired: it.Quantity,
			Instructions:     it.Instructions,
		})
	}

	now := p.rules.Now().UTC()
	prescription := &domain.Prescription{
		PatientID: req.PatientID,
		DoctorID:  doctorID,
		IssueDate: issue,
		Status:    domain.PrescriptionStatusPending,
		Notes:     req.Notes,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     items,
	}
	if err := tx.InsertPrescription(ctx, prescription); err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}

	return prescription, nil
}

// Cancel is permanently blocked once any unit has been dispensed.
func (p *Prescriptions) Cancel(ctx context.Context, tx port.Tx, actor domain.Actor, prescriptionID int64) (*domain.Prescription, error) {
	if err := p.rules.Authorize(actor, domain.ActionCancelPrescription); err != nil {
		return nil, err
	}

	prescription, err := p.lock(ctx, tx, prescriptionID)
	if err != nil {
		return nil, err
	}

	if prescription.Status.Terminal() {
		return nil, domain.PrescriptionClosed(prescription.ID, prescription.Status)
	}
	if dispensed := prescription.Dispensed(); dispensed > 0 {
		return nil, domain.AlreadyDispensed(prescription.ID, dispensed)
	}

	if err := p.transition(ctx, tx, prescription, domain.PrescriptionStatusCancelled); err != nil {
		return nil, err
	}
	return prescription, nil
}

// Recompute derives the status from item state and persists it when it
// changed. Called once per transaction after item mutation.
func (p *Prescriptions) Recompute(ctx context.Context, tx port.Tx, prescription *domain.Prescription) error {
	next := domain.DeriveStatus(prescription.Status, prescription.Items)
	if next == prescription.Status {
		return nil
	}
	return p.transition(ctx, tx, prescription, next)
}

func (p *Prescriptions) lock(ctx context.Context, tx port.Tx, prescriptionID int64) (*domain.Prescription, error) {
	prescription, err := tx.LockPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("lock prescription: %w", err)
	}
	if prescription == nil {
		return nil, domain.PrescriptionNotFound(prescriptionID)
	}
	return prescription, nil
}

func (p *Prescriptions) transition(ctx context.Context, tx port.Tx, prescription *domain.Prescription, status domain.PrescriptionStatus) error {
	now := p.rules.Now().UTC()
	if err := tx.UpdatePrescriptionStatus(ctx, prescription.ID, status, now); err != nil {
		return fmt.Errorf("update prescription status: %w", err)
	}
	prescription.Status = status
	prescription.UpdatedAt = now
	return nil
}
