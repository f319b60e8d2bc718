package handler

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

// ErrorResponse is the body of every failed HTTP call.
type ErrorResponse struct {
	Success bool           `json:"success"`
	Kind    string         `json:"kind,omitempty"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindState:
		return http.StatusConflict
	case domain.KindStock:
		return http.StatusUnprocessableEntity
	case domain.KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(kind domain.Kind) codes.Code {
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.AlreadyExists
	case domain.KindState, domain.KindStock:
		return codes.FailedPrecondition
	case domain.KindPermission:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// newErrorResponse renders a domain error with its numeric context. Any
// other error is reported as internal without leaking its text.
func newErrorResponse(err error) (int, ErrorResponse) {
	de, ok := domain.AsError(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{Message: "internal error"}
	}
	return httpStatus(de.Kind), ErrorResponse{
		Kind:    string(de.Kind),
		Code:    string(de.Code),
		Message: de.Error(),
		Field:   de.Field,
		Details: errorDetails(de),
	}
}

func errorDetails(e *domain.Error) map[string]any {
	details := map[string]any{}
	put := func(key string, v int64) {
		if v != 0 {
			details[key] = v
		}
	}
	putString := func(key, v string) {
		if v != "" {
			details[key] = v
		}
	}

	putString("rfid_code", e.RFIDCode)
	putString("lot_number", e.LotNumber)
	putString("request_id", e.RequestID)
	putString("role", string(e.Role))
	putString("action", string(e.Action))
	putString("status", string(e.Status))
	put("product_id", e.ProductID)
	put("expected_product_id", e.ExpectedProductID)
	put("batch_id", e.BatchID)
	put("prescription_id", e.PrescriptionID)
	put("item_id", e.ItemID)
	put("available", int64(e.Available))
	put("requested", int64(e.Requested))
	if e.Required != 0 {
		details["required"] = e.Required
		details["dispensed"] = e.Dispensed
	} else {
		put("dispensed", int64(e.Dispensed))
	}
	put("minimum", int64(e.Minimum))
	put("limit", int64(e.Limit))
	put("days", int64(e.Days))
	if e.Conflict != nil {
		details["conflict"] = e.Conflict
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// errorMetadata flattens errorDetails into string pairs for gRPC ErrorInfo.
// Conflict fields are prefixed with "conflict_".
func errorMetadata(e *domain.Error) map[string]string {
	md := map[string]string{"kind": string(e.Kind)}
	if e.Field != "" {
		md["field"] = e.Field
	}
	for key, v := range errorDetails(e) {
		if c, ok := v.(*domain.ConflictInfo); ok {
			md["conflict_batch_id"] = fmt.Sprint(c.BatchID)
			md["conflict_product_id"] = fmt.Sprint(c.ProductID)
			md["conflict_product_name"] = c.ProductName
			md["conflict_quantity"] = fmt.Sprint(c.Quantity)
			md["conflict_lot_number"] = c.LotNumber
			md["conflict_expiry_date"] = formatDate(c.ExpiryDate)
			continue
		}
		md[key] = fmt.Sprint(v)
	}
	return md
}
