package handler

import (
	"fmt"
	"time"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/service"
)

const dateLayout = "2006-01-02"

// Request and response bodies shared by the HTTP and gRPC surfaces. Dates
// travel as YYYY-MM-DD.

type IntakeRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	RFIDCode   string `json:"rfid_code"`
	ProductID  int64  `json:"product_id"`
	Quantity   int    `json:"quantity"`
	LotNumber  string `json:"lot_number,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	Area       string `json:"area,omitempty"`
}

type IntakeResponse struct {
	Success          bool      `json:"success"`
	Outcome          string    `json:"outcome"`
	Batch            BatchView `json:"batch"`
	PreviousQuantity int       `json:"previous_quantity"`
}

type WithdrawRequest struct {
	RequestID    string `json:"request_id,omitempty"`
	RFIDCode     string `json:"rfid_code"`
	Quantity     int    `json:"quantity"`
	Area         string `json:"area,omitempty"`
	Notes        string `json:"notes,omitempty"`
	AllowExpired bool   `json:"allow_expired,omitempty"`
}

type WithdrawResponse struct {
	Success        bool             `json:"success"`
	Batch          BatchView        `json:"batch"`
	RemainingStock int              `json:"remaining_stock"`
	TotalStock     int              `json:"total_stock"`
	Warnings       []domain.Warning `json:"warnings,omitempty"`
}

// ReaderEventRequest is what an RFID reader reports: the signed change in
// units it detected under a tag.
type ReaderEventRequest struct {
	RFIDCode string `json:"rfid_code"`
	Delta    int    `json:"delta"`
}

type ReaderEventResponse struct {
	Success  bool             `json:"success"`
	Action   string           `json:"action"`
	Batch    BatchView        `json:"batch"`
	Warnings []domain.Warning `json:"warnings,omitempty"`
}

type CreatePrescriptionRequest struct {
	PatientID int64               `json:"patient_id"`
	DoctorID  int64               `json:"doctor_id,omitempty"`
	IssueDate string              `json:"issue_date,omitempty"`
	Notes     string              `json:"notes,omitempty"`
	Items     []PrescriptionInput `json:"items"`
}

type PrescriptionInput struct {
	ProductID    int64  `json:"product_id"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
}

type CancelPrescriptionRequest struct {
	PrescriptionID int64 `json:"prescription_id"`
}

type PrescriptionResponse struct {
	Success      bool             `json:"success"`
	Prescription PrescriptionView `json:"prescription"`
}

type DispatchRequest struct {
	RequestID      string `json:"request_id,omitempty"`
	PrescriptionID int64  `json:"prescription_id"`
	ItemID         int64  `json:"item_id"`
	BatchID        int64  `json:"batch_id"`
	Quantity       int    `json:"quantity"`
	Area           string `json:"area,omitempty"`
}

type DispatchResponse struct {
	Success             bool             `json:"success"`
	DispensedQuantity   int              `json:"dispensed_quantity"`
	Partial             bool             `json:"partial"`
	Prescription        PrescriptionView `json:"prescription"`
	Item                ItemView         `json:"item"`
	RemainingBatchStock int              `json:"remaining_batch_stock"`
	Warnings            []domain.Warning `json:"warnings,omitempty"`
}

type BatchView struct {
	ID         int64  `json:"id"`
	ProductID  int64  `json:"product_id"`
	LotNumber  string `json:"lot_number"`
	ExpiryDate string `json:"expiry_date"`
	Quantity   int    `json:"quantity"`
	RFIDCode   string `json:"rfid_code,omitempty"`
}

type PrescriptionView struct {
	ID        int64      `json:"id"`
	PatientID int64      `json:"patient_id"`
	DoctorID  int64      `json:"doctor_id"`
	IssueDate string     `json:"issue_date"`
	Status    string     `json:"status"`
	Notes     string     `json:"notes,omitempty"`
	Items     []ItemView `json:"items"`
}

type ItemView struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"product_id"`
	QuantityRequired  int    `json:"quantity_required"`
	QuantityDispensed int    `json:"quantity_dispensed"`
	Instructions      string `json:"instructions,omitempty"`
}

func newBatchView(b *domain.Batch) BatchView {
	if b == nil {
		return BatchView{}
	}
	return BatchView{
		ID:         b.ID,
		ProductID:  b.ProductID,
		LotNumber:  b.LotNumber,
		ExpiryDate: formatDate(b.ExpiryDate),
		Quantity:   b.Quantity,
		RFIDCode:   b.RFIDCode,
	}
}

func newItemView(item domain.PrescriptionItem) ItemView {
	return ItemView{
		ID:                item.ID,
		ProductID:         item.ProductID,
		QuantityRequired:  item.QuantityRequired,
		QuantityDispensed: item.QuantityDispensed,
		Instructions:      item.Instructions,
	}
}

func newPrescriptionView(p *domain.Prescription) PrescriptionView {
	if p == nil {
		return PrescriptionView{}
	}
	items := make([]ItemView, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, newItemView(item))
	}
	return PrescriptionView{
		ID:        p.ID,
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		IssueDate: formatDate(p.IssueDate),
		Status:    string(p.Status),
		Notes:     p.Notes,
		Items:     items,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// parseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp. Empty input
// yields the zero time, which the service treats as "not given".
func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be a date (YYYY-MM-DD), got %q", field, s)
}

func (r IntakeRequest) toService() (service.IntakeRequest, error) {
	expiry, err := parseDate("expiry_date", r.ExpiryDate)
	if err != nil {
		return service.IntakeRequest{}, err
	}
	return service.IntakeRequest{
		RequestID:  r.RequestID,
		RFIDCode:   r.RFIDCode,
		ProductID:  r.ProductID,
		Quantity:   r.Quantity,
		LotNumber:  r.LotNumber,
		ExpiryDate: expiry,
		Area:       r.Area,
	}, nil
}

func (r WithdrawRequest) toService() service.WithdrawRequest {
	return service.WithdrawRequest{
		RequestID:    r.RequestID,
		RFIDCode:     r.RFIDCode,
		Quantity:     r.Quantity,
		Area:         r.Area,
		Notes:        r.Notes,
		AllowExpired: r.AllowExpired,
	}
}

func (r CreatePrescriptionRequest) toService() (service.CreatePrescriptionRequest, error) {
	issue, err := parseDate("issue_date", r.IssueDate)
	if err != nil {
		return service.CreatePrescriptionRequest{}, err
	}
	items := make([]service.CreateItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, service.CreateItemRequest{
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			Instructions: item.Instructions,
		})
	}
	return service.CreatePrescriptionRequest{
		PatientID: r.PatientID,
		DoctorID:  r.DoctorID,
		IssueDate: issue,
		Notes:     r.Notes,
		Items:     items,
	}, nil
}

func (r DispatchRequest) toService() service.DispatchRequest {
	return service.DispatchRequest{
		RequestID:      r.RequestID,
		PrescriptionID: r.PrescriptionID,
		ItemID:         r.ItemID,
		BatchID:        r.BatchID,
		Quantity:       r.Quantity,
		Area:           r.Area,
	}
}

func newIntakeResponse(result *service.IntakeResult) *IntakeResponse {
	return &IntakeResponse{
		Success:          true,
		Outcome:          string(result.Outcome),
		Batch:            newBatchView(result.Batch),
		PreviousQuantity: result.PreviousQuantity,
	}
}

func newWithdrawResponse(result *service.WithdrawResult) *WithdrawResponse {
	return &WithdrawResponse{
		Success:        true,
		Batch:          newBatchView(result.Batch),
		RemainingStock: result.RemainingStock,
		TotalStock:     result.TotalStock,
		Warnings:       result.Warnings,
	}
}

func newDispatchResponse(result *service.DispatchResult) *DispatchResponse {
	return &DispatchResponse{
		Success:             true,
		DispensedQuantity:   result.DispensedQuantity,
		Partial:             result.Partial,
		Prescription:        newPrescriptionView(result.Prescription),
		Item:                newItemView(result.Item),
		RemainingBatchStock: result.RemainingBatchStock,
		Warnings:            result.Warnings,
	}
}

func newReaderEventResponse(result *service.ReaderEventResult) *ReaderEventResponse {
	return &ReaderEventResponse{
		Success:  true,
		Action:   string(result.Action),
		Batch:    newBatchView(result.Batch),
		Warnings: result.Warnings,
	}
}
