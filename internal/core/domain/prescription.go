package domain

import "time"

type PrescriptionStatus string

const (
	PrescriptionStatusPending   PrescriptionStatus = "pending"
	PrescriptionStatusPartial   PrescriptionStatus = "partial"
	PrescriptionStatusFulfilled PrescriptionStatus = "fulfilled"
	PrescriptionStatusCancelled PrescriptionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s PrescriptionStatus) Terminal() bool {
	return s == PrescriptionStatusFulfilled || s == PrescriptionStatusCancelled
}

type Prescription struct {
	ID        int64
	PatientID int64
	DoctorID  int64
	IssueDate time.Time
	Status    PrescriptionStatus
	Notes     string
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []PrescriptionItem
}

type PrescriptionItem struct {
	ID                int64
	PrescriptionID    int64
	ProductID         int64
	QuantityRequired  int
	QuantityDispensed int
	Instructions      string
}

// Remaining is the quantity still owed on the item.
func (i PrescriptionItem) Remaining() int {
	return i.QuantityRequired - i.QuantityDispensed
}

func (i PrescriptionItem) Complete() bool {
	return i.QuantityDispensed >= i.QuantityRequired
}

// Item returns a pointer into p.Items so callers can mutate it in place.
func (p *Prescription) Item(itemID int64) *PrescriptionItem {
	for i := range p.Items {
		if p.Items[i].ID == itemID {
			return &p.Items[i]
		}
	}
	return nil
}

// Dispensed sums quantity_dispensed over all items.
func (p *Prescription) Dispensed() int {
	total := 0
	for _, item := range p.Items {
		total += item.QuantityDispensed
	}
	return total
}

// DeriveStatus recomputes the header status from item state. Cancelled is
// sticky; otherwise fulfilled wins over partial, and a prescription with
// nothing dispensed keeps its current status.
func DeriveStatus(current PrescriptionStatus, items []PrescriptionItem) PrescriptionStatus {
	if current == PrescriptionStatusCancelled || len(items) == 0 {
		return current
	}

	complete, touched := true, false
	for _, item := range items {
		if !item.Complete() {
			complete = false
		}
		if item.QuantityDispensed > 0 {
			touched = true
		}
	}

	switch {
	case complete:
		return PrescriptionStatusFulfilled
	case touched:
		return PrescriptionStatusPartial
	default:
		return current
	}
}
