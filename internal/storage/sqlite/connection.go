package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/billhound/billhound/internal/models"
)

// requiredColumns is the full column set of the current invoices schema.
// A pre-existing table missing any of these is treated as a legacy schema.
var requiredColumns = []string{
	"invoice_id", "filename", "amount", "currency", "payment_ref", "downloaded_at",
}

const createInvoicesSQL = `
CREATE TABLE IF NOT EXISTS invoices (
	invoice_id    TEXT PRIMARY KEY,
	filename      TEXT NOT NULL,
	amount        TEXT,
	currency      TEXT,
	payment_ref   TEXT,
	downloaded_at TEXT NOT NULL
)`

// DB manages the SQLite database connection
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
	path   string
}

// Open opens or creates the invoice store at path. An existing invoices
// table that lacks the full required column set is renamed to
// invoices_legacy (data preserved, excluded from the active schema) before
// a fresh table is created.
func Open(path string, logger arbor.ILogger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w: %w", err, models.ErrStorage)
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w: %w", err, models.ErrStorage)
	}

	s := &DB{
		db:     db,
		logger: logger,
		path:   path,
	}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w: %w", err, models.ErrStorage)
	}

	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w: %w", err, models.ErrStorage)
	}

	logger.Debug().Str("path", path).Msg("Invoice store opened")
	return s, nil
}

// configure sets up SQLite pragmas. case_sensitive_like keeps search
// filtering byte-exact instead of SQLite's default ASCII folding.
func (s *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA case_sensitive_like = ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// ensureSchema applies the legacy-schema guard and creates the current table
func (s *DB) ensureSchema(ctx context.Context) error {
	exists, err := s.tableExists(ctx, "invoices")
	if err != nil {
		return err
	}

	if exists {
		current, err := s.schemaCurrent(ctx)
		if err != nil {
			return err
		}
		if !current {
			s.logger.Warn().Msg("Legacy invoices schema detected, renaming table to invoices_legacy")
			if _, err := s.db.ExecContext(ctx, "ALTER TABLE invoices RENAME TO invoices_legacy"); err != nil {
				return fmt.Errorf("failed to rename legacy table: %w", err)
			}
		}
	}

	if _, err := s.db.ExecContext(ctx, createInvoicesSQL); err != nil {
		return fmt.Errorf("failed to create invoices table: %w", err)
	}
	return nil
}

func (s *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// schemaCurrent reports whether the invoices table carries every required column
func (s *DB) schemaCurrent(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(invoices)")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dfltValue        sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, col := range requiredColumns {
		if !columns[col] {
			return false, nil
		}
	}
	return true, nil
}

// Close closes the database connection
func (s *DB) Close() error {
	return s.db.Close()
}
