package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/port"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

const (
	mysqlDeadlock        = 1213
	mysqlLockWaitTimeout = 1205
	mysqlDuplicateEntry  = 1062
)

// SQLStore implements port.Store on MySQL (InnoDB, row locks via
// SELECT ... FOR UPDATE) or SQLite (one immediate write transaction at a
// time). Batch rows additionally carry a version checked on every update.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewMySQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(db, "mysql"), dialect: DialectMySQL}
}

func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(db, "sqlite"), dialect: DialectSQLite}
}

// OpenSQLite opens path with foreign keys on and write transactions taking
// the database lock at BEGIN.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// WithinTx commits when fn returns nil and rolls back otherwise. Lock
// conflicts reported by the driver come back as port.ErrTxConflict.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, s.txOptions())
	if err != nil {
		return s.classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, lock: s.lockClause()}); err != nil {
		return s.classify(err)
	}

	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// CreateProduct registers a product. Product management lives outside the
// ledger; this exists for seeding.
func (s *SQLStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	if p.Type == "" {
		p.Type = domain.ProductTypeDrug
	}
	if p.UnitsPerPackage == 0 {
		p.UnitsPerPackage = 1
	}

	query := `INSERT INTO products (name, type, min_stock, units_per_package) VALUES (?, ?, ?, ?)`
	args := []any{p.Name, string(p.Type), p.MinStock, p.UnitsPerPackage}
	if p.ID != 0 {
		query = `INSERT INTO products (id, name, type, min_stock, units_per_package) VALUES (?, ?, ?, ?, ?)`
		args = append([]any{p.ID}, args...)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	if p.ID == 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("product id: %w", err)
		}
		p.ID = id
	}
	return nil
}

func (s *SQLStore) txOptions() *sql.TxOptions {
	if s.dialect == DialectMySQL {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

func (s *SQLStore) lockClause() string {
	if s.dialect == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) classify(err error) error {
	if err == nil || errors.Is(err, port.ErrTxConflict) {
		return err
	}
	if isMySQLConflict(err) || isSQLiteConflict(err) {
		return fmt.Errorf("%w: %v", port.ErrTxConflict, err)
	}
	return err
}

// Duplicate keys only arise from racing inserts on the active RFID or lot
// keys; the retried transaction sees the winner's row.
func isMySQLConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case mysqlDeadlock, mysqlLockWaitTimeout, mysqlDuplicateEntry:
		return true
	}
	return false
}

func isSQLiteConflict(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
