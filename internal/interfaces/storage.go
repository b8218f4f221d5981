package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/billhound/billhound/internal/models"
)

// InvoiceStorage is the durable, deduplicated record of processed invoices
type InvoiceStorage interface {
	// Exists reports whether a record with the given invoice ID is stored.
	Exists(ctx context.Context, invoiceID string) (bool, error)

	// InsertIfAbsent persists the record unless its invoice ID already
	// exists. Idempotent; a repeat attempt is a no-op even if newly parsed
	// fields differ. Commits synchronously.
	InsertIfAbsent(ctx context.Context, record *models.InvoiceRecord) error

	// Query returns all records, or those whose invoice ID, filename or
	// payment reference contain the search term (case-sensitive substring),
	// ordered by download time descending.
	Query(ctx context.Context, searchTerm string) ([]*models.InvoiceRecord, error)

	// SumAmount returns the sum of non-null amounts over the same filter,
	// zero when nothing matches.
	SumAmount(ctx context.Context, searchTerm string) (decimal.Decimal, error)

	Close() error
}

// LogSink receives line-oriented progress output from the pipeline so a
// caller (e.g. a UI frontend) can stream it. May be nil.
type LogSink func(line string)
