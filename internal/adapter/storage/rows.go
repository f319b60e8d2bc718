package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	dateLayout,
}

// dbTime scans DATE/DATETIME values from either driver: time.Time when the
// driver parses them, text otherwise.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse time %q", s)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

type productRow struct {
	ID              int64  `db:"id"`
	Name            string `db:"name"`
	Type            string `db:"type"`
	MinStock        int    `db:"min_stock"`
	UnitsPerPackage int    `db:"units_per_package"`
}

func (r productRow) toDomain() *domain.Product {
	return &domain.Product{
		ID:              r.ID,
		Name:            r.Name,
		Type:            domain.ProductType(r.Type),
		MinStock:        r.MinStock,
		UnitsPerPackage: r.UnitsPerPackage,
	}
}

const batchColumns = `id, product_id, lot_number, expiry_date, quantity, rfid_code, entry_date, version, updated_at`

type batchRow struct {
	ID         int64          `db:"id"`
	ProductID  int64          `db:"product_id"`
	LotNumber  string         `db:"lot_number"`
	ExpiryDate dbTime         `db:"expiry_date"`
	Quantity   int            `db:"quantity"`
	RFIDCode   sql.NullString `db:"rfid_code"`
	EntryDate  dbTime         `db:"entry_date"`
	Version    int            `db:"version"`
	UpdatedAt  dbTime         `db:"updated_at"`
}

func (r batchRow) toDomain() domain.Batch {
	return domain.Batch{
		ID:         r.ID,
		ProductID:  r.ProductID,
		LotNumber:  r.LotNumber,
		ExpiryDate: r.ExpiryDate.Time,
		Quantity:   r.Quantity,
		RFIDCode:   r.RFIDCode.String,
		EntryDate:  r.EntryDate.Time,
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt.Time,
	}
}

const prescriptionColumns = `id, patient_id, doctor_id, issue_date, status, notes, created_by, created_at, updated_at`

type prescriptionRow struct {
	ID        int64  `db:"id"`
	PatientID int64  `db:"patient_id"`
	DoctorID  int64  `db:"doctor_id"`
	IssueDate dbTime `db:"issue_date"`
	Status    string `db:"status"`
	Notes     string `db:"notes"`
	CreatedBy int64  `db:"created_by"`
	CreatedAt dbTime `db:"created_at"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r prescriptionRow) toDomain() *domain.Prescription {
	return &domain.Prescription{
		ID:        r.ID,
		PatientID: r.PatientID,
		DoctorID:  r.DoctorID,
		IssueDate: r.IssueDate.Time,
		Status:    domain.PrescriptionStatus(r.Status),
		Notes:     r.Notes,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type itemRow struct {
	ID                int64  `db:"id"`
	PrescriptionID    int64  `db:"prescription_id"`
	ProductID         int64  `db:"product_id"`
	QuantityRequired  int    `db:"quantity_required"`
	QuantityDispensed int    `db:"quantity_dispensed"`
	Instructions      string `db:"instructions"`
}

func (r itemRow) toDomain() domain.PrescriptionItem {
	return domain.PrescriptionItem{
		ID:                r.ID,
		PrescriptionID:    r.PrescriptionID,
		ProductID:         r.ProductID,
		QuantityRequired:  r.QuantityRequired,
		QuantityDispensed: r.QuantityDispensed,
		Instructions:      r.Instructions,
	}
}
