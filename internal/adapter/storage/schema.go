package storage

import (
	"context"
	"fmt"
)

// Active RFID uniqueness is a write-time constraint in both dialects: a
// stored generated column with a unique key on MySQL, a partial unique
// index on SQLite.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(16) NOT NULL DEFAULT 'drug',
		min_stock INT NOT NULL DEFAULT 0,
		units_per_package INT NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS batches (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		lot_number VARCHAR(64) NOT NULL,
		expiry_date DATE NOT NULL,
		quantity INT NOT NULL,
		rfid_code VARCHAR(50) NULL,
		active_rfid VARCHAR(50) GENERATED ALWAYS AS (IF(quantity > 0, rfid_code, NULL)) STORED,
		entry_date DATETIME NOT NULL,
		version INT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		CONSTRAINT chk_batches_quantity CHECK (quantity >= 0),
		UNIQUE KEY uq_batches_active_rfid (active_rfid),
		UNIQUE KEY uq_batches_lot (product_id, lot_number),
		KEY idx_batches_rfid (rfid_code),
		KEY idx_batches_product_expiry (product_id, expiry_date),
		KEY idx_batches_expiry (expiry_date),
		CONSTRAINT fk_batches_product FOREIGN KEY (product_id) REFERENCES products (id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		patient_id BIGINT NOT NULL,
		doctor_id BIGINT NOT NULL,
		issue_date DATE NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		notes VARCHAR(1000) NOT NULL DEFAULT '',
		created_by BIGINT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		KEY idx_prescriptions_patient (patient_id),
		KEY idx_prescriptions_status (status)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS prescription_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		prescription_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity_required INT NOT NULL,
		quantity_dispensed INT NOT NULL DEFAULT 0,
		instructions VARCHAR(1000) NOT NULL DEFAULT '',
		CONSTRAINT chk_items_required CHECK (quantity_required > 0),
		CONSTRAINT chk_items_dispensed CHECK (quantity_dispensed >= 0 AND quantity_dispensed <= quantity_required),
		KEY idx_items_prescription (prescription_id),
		CONSTRAINT fk_items_prescription FOREIGN KEY (prescription_id) REFERENCES prescriptions (id),
		CONSTRAINT fk_items_product FOREIGN KEY (product_id) REFERENCES products (id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS stock_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		batch_id BIGINT NOT NULL,
		previous_quantity INT NOT NULL,
		new_quantity INT NOT NULL,
		action VARCHAR(8) NOT NULL,
		area VARCHAR(64) NOT NULL DEFAULT '',
		notes VARCHAR(1000) NOT NULL DEFAULT '',
		prescription_id BIGINT NULL,
		item_id BIGINT NULL,
		actor_id BIGINT NULL,
		created_at DATETIME NOT NULL,
		KEY idx_history_created (created_at),
		KEY idx_history_product (product_id, created_at),
		KEY idx_history_batch (batch_id, created_at)
	) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'drug',
		min_stock INTEGER NOT NULL DEFAULT 0,
		units_per_package INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products (id),
		lot_number TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		rfid_code TEXT NULL,
		entry_date TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		UNIQUE (product_id, lot_number)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_batches_active_rfid ON batches (rfid_code) WHERE quantity > 0`,
	`CREATE INDEX IF NOT EXISTS idx_batches_rfid ON batches (rfid_code)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_product_expiry ON batches (product_id, expiry_date)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_expiry ON batches (expiry_date)`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL,
		doctor_id INTEGER NOT NULL,
		issue_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions (patient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_status ON prescriptions (status)`,
	`CREATE TABLE IF NOT EXISTS prescription_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prescription_id INTEGER NOT NULL REFERENCES prescriptions (id),
		product_id INTEGER NOT NULL REFERENCES products (id),
		quantity_required INTEGER NOT NULL CHECK (quantity_required > 0),
		quantity_dispensed INTEGER NOT NULL DEFAULT 0,
		instructions TEXT NOT NULL DEFAULT '',
		CHECK (quantity_dispensed >= 0 AND quantity_dispensed <= quantity_required)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_prescription ON prescription_items (prescription_id)`,
	`CREATE TABLE IF NOT EXISTS stock_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		batch_id INTEGER NOT NULL,
		previous_quantity INTEGER NOT NULL,
		new_quantity INTEGER NOT NULL,
		action TEXT NOT NULL,
		area TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		prescription_id INTEGER NULL,
		item_id INTEGER NULL,
		actor_id INTEGER NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_created ON stock_history (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_history_product ON stock_history (product_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_history_batch ON stock_history (batch_id, created_at)`,
}

// Migrate creates the schema for the store's dialect. Every statement is
// idempotent, so it runs on each start.
func (s *SQLStore) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectMySQL {
		statements = mysqlSchema
	}

	for i, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
