package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
)

// downloadedAtLayout stores timestamps at second precision, UTC
const downloadedAtLayout = "2006-01-02T15:04:05"

// InvoiceStorage persists processed invoices with insert-once semantics
type InvoiceStorage struct {
	db     *DB
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.InvoiceStorage = (*InvoiceStorage)(nil)

// NewInvoiceStorage creates an invoice storage backed by the given connection
func NewInvoiceStorage(db *DB, logger arbor.ILogger) *InvoiceStorage {
	return &InvoiceStorage{
		db:     db,
		logger: logger,
	}
}

// Exists reports whether a record with the given invoice ID is stored
func (s *InvoiceStorage) Exists(ctx context.Context, invoiceID string) (bool, error) {
	var one int
	err := s.db.db.QueryRowContext(ctx,
		"SELECT 1 FROM invoices WHERE invoice_id = ? LIMIT 1", invoiceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check invoice %s: %w: %w", invoiceID, err, models.ErrStorage)
	}
	return true, nil
}

// InsertIfAbsent persists the record unless the invoice ID already exists.
// INSERT OR IGNORE keeps the first record untouched even when newly parsed
// fields differ. Autocommit: a crash mid-run loses at most the in-flight item.
func (s *InvoiceStorage) InsertIfAbsent(ctx context.Context, record *models.InvoiceRecord) error {
	downloadedAt := record.DownloadedAt
	if downloadedAt.IsZero() {
		downloadedAt = time.Now().UTC().Truncate(time.Second)
	}

	var amount, currency, paymentRef sql.NullString
	if record.Amount != nil {
		amount = sql.NullString{String: record.Amount.StringFixed(2), Valid: true}
	}
	if record.Currency != nil {
		currency = sql.NullString{String: *record.Currency, Valid: true}
	}
	if record.PaymentRef != nil {
		paymentRef = sql.NullString{String: *record.PaymentRef, Valid: true}
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO invoices
		(invoice_id, filename, amount, currency, payment_ref, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.InvoiceID,
		record.Filename,
		amount,
		currency,
		paymentRef,
		downloadedAt.UTC().Format(downloadedAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w: %w", record.InvoiceID, err, models.ErrStorage)
	}
	return nil
}

// Query returns all records, or those whose invoice ID, filename or payment
// reference contain the search term (case-sensitive substring), newest first.
func (s *InvoiceStorage) Query(ctx context.Context, searchTerm string) ([]*models.InvoiceRecord, error) {
	query := `SELECT invoice_id, filename, amount, currency, payment_ref, downloaded_at FROM invoices`
	var args []any
	if searchTerm != "" {
		query += ` WHERE invoice_id LIKE ? OR filename LIKE ? OR payment_ref LIKE ?`
		like := "%" + searchTerm + "%"
		args = append(args, like, like, like)
	}
	query += ` ORDER BY downloaded_at DESC`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w: %w", err, models.ErrStorage)
	}
	defer rows.Close()

	var records []*models.InvoiceRecord
	for rows.Next() {
		record, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice row: %w: %w", err, models.ErrStorage)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w: %w", err, models.ErrStorage)
	}
	return records, nil
}

// SumAmount returns the sum of non-null amounts over the same filter as
// Query. The sum is computed with decimal arithmetic, not SQLite floats.
func (s *InvoiceStorage) SumAmount(ctx context.Context, searchTerm string) (decimal.Decimal, error) {
	query := `SELECT amount FROM invoices WHERE amount IS NOT NULL`
	var args []any
	if searchTerm != "" {
		query += ` AND (invoice_id LIKE ? OR filename LIKE ? OR payment_ref LIKE ?)`
		like := "%" + searchTerm + "%"
		args = append(args, like, like, like)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum invoices: %w: %w", err, models.ErrStorage)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w: %w", err, models.ErrStorage)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			s.logger.Warn().Str("amount", raw).Msg("Skipping unparsable stored amount")
			continue
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to iterate amounts: %w: %w", err, models.ErrStorage)
	}
	return total, nil
}

// Close closes the underlying connection
func (s *InvoiceStorage) Close() error {
	return s.db.Close()
}

func scanInvoice(rows *sql.Rows) (*models.InvoiceRecord, error) {
	var (
		record                      models.InvoiceRecord
		amount, currency, reference sql.NullString
		downloadedAt                string
	)
	if err := rows.Scan(&record.InvoiceID, &record.Filename, &amount, &currency, &reference, &downloadedAt); err != nil {
		return nil, err
	}
	if amount.Valid {
		value, err := decimal.NewFromString(amount.String)
		if err == nil {
			record.Amount = &value
		}
	}
	if currency.Valid {
		record.Currency = &currency.String
	}
	if reference.Valid {
		record.PaymentRef = &reference.String
	}
	if ts, err := time.Parse(downloadedAtLayout, downloadedAt); err == nil {
		record.DownloadedAt = ts.UTC()
	}
	return &record, nil
}
