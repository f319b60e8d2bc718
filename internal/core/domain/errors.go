package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind groups error codes by how a caller is expected to react.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindState      Kind = "state"
	KindStock      Kind = "stock"
	KindPermission Kind = "permission"
)

// Code is a machine-readable error code.
type Code string

const (
	// Validation
	CodeInvalidQuantity   Code = "INVALID_QUANTITY"
	CodeInvalidRFID       Code = "INVALID_RFID"
	CodeMissingField      Code = "MISSING_FIELD"
	CodeIssueDateInFuture Code = "ISSUE_DATE_IN_FUTURE"
	CodeExpiryInPast      Code = "EXPIRY_IN_PAST"
	CodeNoItems           Code = "NO_ITEMS"
	CodeTooManyItems      Code = "TOO_MANY_ITEMS"

	// Not found
	CodeProductNotFound      Code = "PRODUCT_NOT_FOUND"
	CodeBatchNotFound        Code = "BATCH_NOT_FOUND"
	CodePrescriptionNotFound Code = "PRESCRIPTION_NOT_FOUND"
	CodeItemNotFound         Code = "ITEM_NOT_FOUND"

	// Conflict
	CodeRFIDConflict     Code = "RFID_CONFLICT"
	CodeDuplicateLot     Code = "DUPLICATE_LOT"
	CodeDuplicateRequest Code = "DUPLICATE_REQUEST"

	// State
	CodePrescriptionClosed  Code = "PRESCRIPTION_CLOSED"
	CodePrescriptionExpired Code = "PRESCRIPTION_EXPIRED"
	CodeItemComplete        Code = "ITEM_COMPLETE"
	CodeExceedsRequired     Code = "EXCEEDS_REQUIRED"
	CodeAlreadyDispensed    Code = "ALREADY_DISPENSED"

	// Stock
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeBatchExpired      Code = "BATCH_EXPIRED"
	CodeBatchEmpty        Code = "BATCH_EMPTY"
	CodeProductMismatch   Code = "PRODUCT_MISMATCH"

	// Permission
	CodeRoleNotAllowed Code = "ROLE_NOT_ALLOWED"
)

// Kind maps a code to its taxonomy group.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidQuantity, CodeInvalidRFID, CodeMissingField,
		CodeIssueDateInFuture, CodeExpiryInPast, CodeNoItems, CodeTooManyItems:
		return KindValidation
	case CodeProductNotFound, CodeBatchNotFound, CodePrescriptionNotFound, CodeItemNotFound:
		return KindNotFound
	case CodeRFIDConflict, CodeDuplicateLot, CodeDuplicateRequest:
		return KindConflict
	case CodePrescriptionClosed, CodePrescriptionExpired, CodeItemComplete,
		CodeExceedsRequired, CodeAlreadyDispensed:
		return KindState
	case CodeInsufficientStock, CodeBatchExpired, CodeBatchEmpty, CodeProductMismatch:
		return KindStock
	case CodeRoleNotAllowed:
		return KindPermission
	default:
		return KindValidation
	}
}

// ConflictInfo describes the batch that already owns an RFID tag.
type ConflictInfo struct {
	BatchID     int64     `json:"batch_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	LotNumber   string    `json:"lot_number"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

// Error is the single domain error type. Code identifies it; the remaining
// fields carry the context a caller needs to act on it. Only the fields
// relevant to Code are set.
type Error struct {
	Kind  Kind
	Code  Code
	Field string // offending input field

	RFIDCode  string
	LotNumber string
	RequestID string
	Role      Role
	Action    Action
	Status    PrescriptionStatus

	ProductID         int64
	ExpectedProductID int64
	BatchID           int64
	PrescriptionID    int64
	ItemID            int64

	Available int
	Requested int
	Required  int
	Dispensed int
	Minimum   int
	Limit     int
	Days      int

	Conflict *ConflictInfo
}

func newError(code Code) *Error {
	return &Error{Kind: code.Kind(), Code: code}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case CodeInvalidQuantity:
		return fmt.Sprintf("%s must be between %d and %d, got %d", e.Field, e.Minimum, e.Limit, e.Requested)
	case CodeInvalidRFID:
		return fmt.Sprintf("malformed rfid code %q", e.RFIDCode)
	case CodeMissingField:
		return fmt.Sprintf("%s is required", e.Field)
	case CodeIssueDateInFuture:
		return fmt.Sprintf("issue date is %d day(s) in the future", e.Days)
	case CodeExpiryInPast:
		return fmt.Sprintf("expiry date passed %d day(s) ago", e.Days)
	case CodeNoItems:
		return "prescription needs at least one item"
	case CodeTooManyItems:
		return fmt.Sprintf("prescription has %d items, limit is %d", e.Requested, e.Limit)
	case CodeProductNotFound:
		return fmt.Sprintf("product %d not found", e.ProductID)
	case CodeBatchNotFound:
		if e.RFIDCode != "" {
			return fmt.Sprintf("no active batch for rfid %q", e.RFIDCode)
		}
		return fmt.Sprintf("batch %d not found", e.BatchID)
	case CodePrescriptionNotFound:
		return fmt.Sprintf("prescription %d not found", e.PrescriptionID)
	case CodeItemNotFound:
		return fmt.Sprintf("item %d not found on prescription %d", e.ItemID, e.PrescriptionID)
	case CodeRFIDConflict:
		if e.Conflict != nil {
			return fmt.Sprintf("rfid %q is registered to %s (batch %d, lot %s, quantity %d)",
				e.RFIDCode, e.Conflict.ProductName, e.Conflict.BatchID, e.Conflict.LotNumber, e.Conflict.Quantity)
		}
		return fmt.Sprintf("rfid %q is registered to another product", e.RFIDCode)
	case CodeDuplicateLot:
		return fmt.Sprintf("lot %q already exists for product %d", e.LotNumber, e.ProductID)
	case CodeDuplicateRequest:
		return fmt.Sprintf("duplicate request %q", e.RequestID)
	case CodePrescriptionClosed:
		return fmt.Sprintf("prescription %d is %s", e.PrescriptionID, e.Status)
	case CodePrescriptionExpired:
		return fmt.Sprintf("prescription %d expired: issued %d days ago, valid for %d", e.PrescriptionID, e.Days, e.Limit)
	case CodeItemComplete:
		return fmt.Sprintf("item %d already fully dispensed (%d/%d)", e.ItemID, e.Dispensed, e.Required)
	case CodeExceedsRequired:
		return fmt.Sprintf("requested %d exceeds remaining %d on item %d (%d/%d dispensed)",
			e.Requested, e.Required-e.Dispensed, e.ItemID, e.Dispensed, e.Required)
	case CodeAlreadyDispensed:
		return fmt.Sprintf("prescription %d has %d unit(s) dispensed and cannot be cancelled", e.PrescriptionID, e.Dispensed)
	case CodeInsufficientStock:
		return fmt.Sprintf("insufficient stock in batch %d: available %d, requested %d", e.BatchID, e.Available, e.Requested)
	case CodeBatchExpired:
		return fmt.Sprintf("batch %d expired %d day(s) ago", e.BatchID, e.Days)
	case CodeBatchEmpty:
		return fmt.Sprintf("batch %d has no stock", e.BatchID)
	case CodeProductMismatch:
		return fmt.Sprintf("batch %d holds product %d, item requires product %d", e.BatchID, e.ProductID, e.ExpectedProductID)
	case CodeRoleNotAllowed:
		return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
	default:
		return string(e.Code)
	}
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// AsError extracts a domain error from an error chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Sentinels for errors.Is.
var (
	ErrInvalidQuantity      = newError(CodeInvalidQuantity)
	ErrInvalidRFID          = newError(CodeInvalidRFID)
	ErrMissingField         = newError(CodeMissingField)
	ErrIssueDateInFuture    = newError(CodeIssueDateInFuture)
	ErrExpiryInPast         = newError(CodeExpiryInPast)
	ErrNoItems              = newError(CodeNoItems)
	ErrTooManyItems         = newError(CodeTooManyItems)
	ErrProductNotFound      = newError(CodeProductNotFound)
	ErrBatchNotFound        = newError(CodeBatchNotFound)
	ErrPrescriptionNotFound = newError(CodePrescriptionNotFound)
	ErrItemNotFound         = newError(CodeItemNotFound)
	ErrRFIDConflict         = newError(CodeRFIDConflict)
	ErrDuplicateLot         = newError(CodeDuplicateLot)
	ErrDuplicateRequest     = newError(CodeDuplicateRequest)
	ErrPrescriptionClosed   = newError(CodePrescriptionClosed)
	ErrPrescriptionExpired  = newError(CodePrescriptionExpired)
	ErrItemComplete         = newError(CodeItemComplete)
	ErrExceedsRequired      = newError(CodeExceedsRequired)
	ErrAlreadyDispensed     = newError(CodeAlreadyDispensed)
	ErrInsufficientStock    = newError(CodeInsufficientStock)
	ErrBatchExpired         = newError(CodeBatchExpired)
	ErrBatchEmpty           = newError(CodeBatchEmpty)
	ErrProductMismatch      = newError(CodeProductMismatch)
	ErrRoleNotAllowed       = newError(CodeRoleNotAllowed)
)

func InvalidQuantity(field string, got, min, max int) *Error {
	e := newError(CodeInvalidQuantity)
	e.Field, e.Requested, e.Minimum, e.Limit = field, got, min, max
	return e
}

func InvalidRFID(code string) *Error {
	e := newError(CodeInvalidRFID)
	e.Field, e.RFIDCode = "rfid_code", code
	return e
}

func MissingField(field string) *Error {
	e := newError(CodeMissingField)
	e.Field = field
	return e
}

func IssueDateInFuture(days int) *Error {
	e := newError(CodeIssueDateInFuture)
	e.Field, e.Days = "issue_date", days
	return e
}

func ExpiryInPast(days int) *Error {
	e := newError(CodeExpiryInPast)
	e.Field, e.Days = "expiry_date", days
	return e
}

func NoItems() *Error {
	e := newError(CodeNoItems)
	e.Field = "items"
	return e
}

func TooManyItems(got, limit int) *Error {
	e := newError(CodeTooManyItems)
	e.Field, e.Requested, e.Limit = "items", got, limit
	return e
}

func ProductNotFound(productID int64) *Error {
	e := newError(CodeProductNotFound)
	e.ProductID = productID
	return e
}

func BatchNotFound(batchID int64) *Error {
	e := newError(CodeBatchNotFound)
	e.BatchID = batchID
	return e
}

func ActiveBatchNotFound(rfid string) *Error {
	e := newError(CodeBatchNotFound)
	e.RFIDCode = rfid
	return e
}

func PrescriptionNotFound(prescriptionID int64) *Error {
	e := newError(CodePrescriptionNotFound)
	e.PrescriptionID = prescriptionID
	return e
}

func ItemNotFound(prescriptionID, itemID int64) *Error {
	e := newError(CodeItemNotFound)
	e.PrescriptionID, e.ItemID = prescriptionID, itemID
	return e
}

func RFIDConflict(rfid string, conflict ConflictInfo) *Error {
	e := newError(CodeRFIDConflict)
	e.RFIDCode, e.Conflict = rfid, &conflict
	e.BatchID, e.ProductID = conflict.BatchID, conflict.ProductID
	return e
}

func DuplicateLot(productID int64, lot string) *Error {
	e := newError(CodeDuplicateLot)
	e.Field, e.ProductID, e.LotNumber = "lot_number", productID, lot
	return e
}

func DuplicateRequest(requestID string) *Error {
	e := newError(CodeDuplicateRequest)
	e.Field, e.RequestID = "request_id", requestID
	return e
}

func PrescriptionClosed(prescriptionID int64, status PrescriptionStatus) *Error {
	e := newError(CodePrescriptionClosed)
	e.PrescriptionID, e.Status = prescriptionID, status
	return e
}

func PrescriptionExpired(prescriptionID int64, daysSinceIssue, validityDays int) *Error {
	e := newError(CodePrescriptionExpired)
	e.PrescriptionID, e.Days, e.Limit = prescriptionID, daysSinceIssue, validityDays
	return e
}

func ItemComplete(item PrescriptionItem) *Error {
	e := newError(CodeItemComplete)
	e.PrescriptionID, e.ItemID = item.PrescriptionID, item.ID
	e.Required, e.Dispensed = item.QuantityRequired, item.QuantityDispensed
	return e
}

func ExceedsRequired(item PrescriptionItem, requested int) *Error {
	e := newError(CodeExceedsRequired)
	e.PrescriptionID, e.ItemID = item.PrescriptionID, item.ID
	e.Required, e.Dispensed, e.Requested = item.QuantityRequired, item.QuantityDispensed, requested
	return e
}

func AlreadyDispensed(prescriptionID int64, dispensed int) *Error {
	e := newError(CodeAlreadyDispensed)
	e.PrescriptionID, e.Dispensed = prescriptionID, dispensed
	return e
}

func InsufficientStock(batchID int64, available, requested int) *Error {
	e := newError(CodeInsufficientStock)
	e.BatchID, e.Available, e.Requested = batchID, available, requested
	return e
}

func BatchExpired(batchID int64, daysExpired int) *Error {
	e := newError(CodeBatchExpired)
	e.BatchID, e.Days = batchID, daysExpired
	return e
}

func BatchEmpty(batchID int64) *Error {
	e := newError(CodeBatchEmpty)
	e.BatchID = batchID
	return e
}

func ProductMismatch(batch Batch, item PrescriptionItem) *Error {
	e := newError(CodeProductMismatch)
	e.BatchID, e.ProductID = batch.ID, batch.ProductID
	e.ItemID, e.ExpectedProductID = item.ID, item.ProductID
	return e
}

func RoleNotAllowed(role Role, action Action) *Error {
	e := newError(CodeRoleNotAllowed)
	e.Role, e.Action = role, action
	return e
}
