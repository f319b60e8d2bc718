package domain

import "time"

type NotificationType string

const (
	NotificationBatchCreated          NotificationType = "batch_created"
	NotificationBatchMerged           NotificationType = "batch_merged"
	NotificationStockWithdrawn        NotificationType = "stock_withdrawn"
	NotificationLowStock              NotificationType = "low_stock"
	NotificationPrescriptionCreated   NotificationType = "prescription_created"
	NotificationPrescriptionCancelled NotificationType = "prescription_cancelled"
	NotificationItemDispatched        NotificationType = "item_dispatched"
)

// Notification is emitted after a transaction commits. Delivery is best
// effort and never affects the committed state.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	ActorID        int64            `json:"actor_id,omitempty"`
	ProductID      int64            `json:"product_id,omitempty"`
	BatchID        int64            `json:"batch_id,omitempty"`
	PrescriptionID int64            `json:"prescription_id,omitempty"`
	ItemID         int64            `json:"item_id,omitempty"`
	Quantity       int              `json:"quantity,omitempty"`
	Remaining      int              `json:"remaining,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

type WarningKind string

const (
	WarningLowStock WarningKind = "low_stock"
	WarningFIFO     WarningKind = "fifo"
)

// Warning accompanies a successful result; it never fails an operation.
type Warning struct {
	Kind       WarningKind `json:"kind"`
	ProductID  int64       `json:"product_id"`
	BatchID    int64       `json:"batch_id,omitempty"`
	Total      int         `json:"total,omitempty"`
	Minimum    int         `json:"minimum,omitempty"`
	ExpiryDate time.Time   `json:"expiry_date,omitempty"`
}
