package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

type sqlTx struct {
	tx   *sqlx.Tx
	lock string
}

func (t *sqlTx) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT id, name, type, min_stock, units_per_package
		FROM products WHERE id = ?`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return row.toDomain(), nil
}

func (t *sqlTx) LockBatch(ctx context.Context, batchID int64) (*domain.Batch, error) {
	return t.getBatch(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`+t.lock, batchID)
}

func (t *sqlTx) LockActiveBatchByRFID(ctx context.Context, code string) (*domain.Batch, error) {
	return t.getBatch(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE rfid_code = ? AND quantity > 0
		ORDER BY id LIMIT 1`+t.lock, code)
}

func (t *sqlTx) FindBatchByLot(ctx context.Context, productID int64, lot string) (*domain.Batch, error) {
	return t.getBatch(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE product_id = ? AND lot_number = ?`, productID, lot)
}

func (t *sqlTx) getBatch(ctx context.Context, query string, args ...any) (*domain.Batch, error) {
	var row batchRow
	err := t.tx.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	b := row.toDomain()
	return &b, nil
}

func (t *sqlTx) InsertBatch(ctx context.Context, batch *domain.Batch) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO batches (product_id, lot_number, expiry_date, quantity, rfid_code, entry_date, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		batch.ProductID, batch.LotNumber, formatDate(batch.ExpiryDate), batch.Quantity,
		nullString(batch.RFIDCode), formatTimestamp(batch.EntryDate), formatTimestamp(batch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("batch id: %w", err)
	}
	batch.ID = id
	batch.Version = 0
	return nil
}

func (t *sqlTx) UpdateBatchQuantity(ctx context.Context, batch domain.Batch, quantity int, updatedAt time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE batches
		SET quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		quantity, formatTimestamp(updatedAt), batch.ID, batch.Version,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrTxConflict
	}
	return nil
}

func (t *sqlTx) TotalStock(ctx context.Context, productID int64) (int, error) {
	var total int
	err := t.tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(quantity), 0) FROM batches WHERE product_id = ?`, productID)
	if err != nil {
		return 0, fmt.Errorf("sum stock: %w", err)
	}
	return total, nil
}

func (t *sqlTx) EarliestActiveBatch(ctx context.Context, productID, excludeID int64, notBefore time.Time) (*domain.Batch, error) {
	return t.getBatch(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE product_id = ? AND id <> ? AND quantity > 0 AND expiry_date >= ?
		ORDER BY expiry_date, id LIMIT 1`,
		productID, excludeID, formatDate(notBefore))
}

func (t *sqlTx) ListExpiringBatches(ctx context.Context, before time.Time) ([]domain.Batch, error) {
	var rows []batchRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+batchColumns+` FROM batches
		WHERE quantity > 0 AND expiry_date < ?
		ORDER BY expiry_date, id`, formatDate(before))
	if err != nil {
		return nil, fmt.Errorf("query expiring batches: %w", err)
	}

	batches := make([]domain.Batch, 0, len(rows))
	for _, r := range rows {
		batches = append(batches, r.toDomain())
	}
	return batches, nil
}

func (t *sqlTx) AppendEvent(ctx context.Context, event *domain.DispatchEvent) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_history
			(product_id, batch_id, previous_quantity, new_quantity, action, area, notes,
			 prescription_id, item_id, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ProductID, event.BatchID, event.PreviousQuantity, event.NewQuantity,
		string(event.Action), event.Area, event.Notes,
		nullID(event.PrescriptionID), nullID(event.ItemID), nullID(event.ActorID),
		formatTimestamp(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert stock history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("stock history id: %w", err)
	}
	event.ID = id
	return nil
}

func (t *sqlTx) InsertPrescription(ctx context.Context, p *domain.Prescription) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO prescriptions (patient_id, doctor_id, issue_date, status, notes, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PatientID, p.DoctorID, formatDate(p.IssueDate), string(p.Status), p.Notes, p.CreatedBy,
		formatTimestamp(p.CreatedAt), formatTimestamp(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("prescription id: %w", err)
	}
	p.ID = id

	for i := range p.Items {
		item := &p.Items[i]
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO prescription_items (prescription_id, product_id, quantity_required, quantity_dispensed, instructions)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, item.ProductID, item.QuantityRequired, item.QuantityDispensed, item.Instructions,
		)
		if err != nil {
			return fmt.Errorf("insert prescription item: %w", err)
		}

		itemID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("prescription item id: %w", err)
		}
		item.ID = itemID
		item.PrescriptionID = p.ID
	}

	return nil
}

func (t *sqlTx) GetPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error) {
	return t.loadPrescription(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = ?`, prescriptionID)
}

func (t *sqlTx) LockPrescription(ctx context.Context, prescriptionID int64) (*domain.Prescription, error) {
	return t.loadPrescription(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = ?`+t.lock, prescriptionID)
}

// loadPrescription reads the header with query and then its items. Items
// are only written under the header lock, so they need no lock of their own.
func (t *sqlTx) loadPrescription(ctx context.Context, query string, prescriptionID int64) (*domain.Prescription, error) {
	var row prescriptionRow
	err := t.tx.GetContext(ctx, &row, query, prescriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query prescription: %w", err)
	}

	var items []itemRow
	err = t.tx.SelectContext(ctx, &items, `
		SELECT id, prescription_id, product_id, quantity_required, quantity_dispensed, instructions
		FROM prescription_items WHERE prescription_id = ?
		ORDER BY id`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("query prescription items: %w", err)
	}

	p := row.toDomain()
	p.Items = make([]domain.PrescriptionItem, 0, len(items))
	for _, it := range items {
		p.Items = append(p.Items, it.toDomain())
	}
	return p, nil
}

func (t *sqlTx) UpdateItemDispensed(ctx context.Context, itemID int64, dispensed int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE prescription_items SET quantity_dispensed = ? WHERE id = ?`,
		dispensed, itemID,
	)
	if err != nil {
		return fmt.Errorf("update prescription item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("prescription item %d not found", itemID)
	}
	return nil
}

func (t *sqlTx) UpdatePrescriptionStatus(ctx context.Context, prescriptionID int64, status domain.PrescriptionStatus, updatedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE prescriptions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTimestamp(updatedAt), prescriptionID,
	)
	if err != nil {
		return fmt.Errorf("update prescription status: %w", err)
	}
	return nil
}
