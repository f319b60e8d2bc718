package domain

import "time"

type Batch struct {
	ID         int64
	ProductID  int64
	LotNumber  string
	ExpiryDate time.Time
	Quantity   int
	RFIDCode   string // empty when the lot carries no tag
	EntryDate  time.Time
	Version    int // bumped on every quantity write
	UpdatedAt  time.Time
}

// Active reports whether the batch still holds stock. At most one active
// batch exists per RFID code.
func (b Batch) Active() bool {
	return b.Quantity > 0
}

type StockAction string

const (
	StockActionAdd    StockAction = "add"
	StockActionRemove StockAction = "remove"
)

// DispatchEvent is an append-only stock history row written for every
// quantity change of a batch.
type DispatchEvent struct {
	ID               int64
	ProductID        int64
	BatchID          int64
	PreviousQuantity int
	NewQuantity      int
	Action           StockAction
	Area             string
	Notes            string
	PrescriptionID   int64
	ItemID           int64
	ActorID          int64
	CreatedAt        time.Time
}
