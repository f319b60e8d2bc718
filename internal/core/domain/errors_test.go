package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", InsufficientStock(3, 5, 8))

	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("expected errors.Is to match by code")
	}
	if errors.Is(err, ErrBatchExpired) {
		t.Error("expected no match for a different code")
	}
}

func TestError_AsCarriesNumbers(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InsufficientStock(3, 5, 8))

	de, ok := AsError(err)
	if !ok {
		t.Fatal("expected domain error")
	}
	if de.Kind != KindStock {
		t.Errorf("expected kind stock, got %s", de.Kind)
	}
	if de.Available != 5 || de.Requested != 8 || de.BatchID != 3 {
		t.Errorf("unexpected context: %+v", de)
	}
	if !strings.Contains(de.Error(), "available 5") {
		t.Errorf("unexpected message: %s", de.Error())
	}
}

func TestCodeKinds(t *testing.T) {
	tests := map[Code]Kind{
		CodeInvalidQuantity:     KindValidation,
		CodeInvalidRFID:         KindValidation,
		CodeBatchNotFound:       KindNotFound,
		CodeRFIDConflict:        KindConflict,
		CodeDuplicateLot:        KindConflict,
		CodeItemComplete:        KindState,
		CodePrescriptionExpired: KindState,
		CodeProductMismatch:     KindStock,
		CodeBatchExpired:        KindStock,
		CodeRoleNotAllowed:      KindPermission,
	}
	for code, want := range tests {
		if got := code.Kind(); got != want {
			t.Errorf("%s: expected %s, got %s", code, want, got)
		}
	}
}

func TestRFIDConflictMessage(t *testing.T) {
	err := RFIDConflict("TAG1", ConflictInfo{BatchID: 4, ProductID: 7, ProductName: "Amoxicillin", Quantity: 20, LotNumber: "L-1"})

	if err.Conflict == nil || err.Conflict.ProductID != 7 {
		t.Fatalf("expected conflict info, got %+v", err.Conflict)
	}
	if !strings.Contains(err.Error(), "Amoxicillin") {
		t.Errorf("expected product name in message, got %s", err.Error())
	}
}

func TestInvalidQuantityMessageUsesBounds(t *testing.T) {
	err := InvalidQuantity("quantity", 2, 5, 50)

	if err.Minimum != 5 || err.Limit != 50 {
		t.Errorf("unexpected bounds: %+v", err)
	}
	if got, want := err.Error(), "quantity must be between 5 and 50, got 2"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
