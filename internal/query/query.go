// Package query implements the read-only reporting modes: listing stored
// invoice records and totalling their amounts. It never creates the store;
// an absent database simply means no records.
package query

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/models"
	"github.com/billhound/billhound/internal/storage/sqlite"
)

const timeLayout = "2006-01-02 15:04"

// Run executes a query against the invoice store and prints the matches as
// a table, or just the amount total in sum mode. An empty term matches
// everything. A missing store file yields an empty result without creating
// the file.
func Run(ctx context.Context, storePath, term string, sumOnly bool) error {
	return run(ctx, storePath, term, sumOnly, os.Stdout)
}

func run(ctx context.Context, storePath, term string, sumOnly bool, w io.Writer) error {
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		if sumOnly {
			fmt.Fprintln(w, "Total: 0.00 EUR (0 invoices)")
		} else {
			fmt.Fprintln(w, "No invoices stored yet.")
		}
		return nil
	}

	logger := arbor.NewLogger()
	db, err := sqlite.Open(storePath, logger)
	if err != nil {
		return err
	}
	store := sqlite.NewInvoiceStorage(db, logger)
	defer store.Close()

	records, err := store.Query(ctx, term)
	if err != nil {
		return err
	}

	if sumOnly {
		total, err := store.SumAmount(ctx, term)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Total: %s EUR (%d invoices)\n", total.StringFixed(2), len(records))
		return nil
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No matching invoices.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Invoice ID", "Filename", "Amount", "Payment Ref", "Downloaded"})

	total := decimal.Zero
	for _, r := range records {
		t.AppendRow(table.Row{r.InvoiceID, r.Filename, amountCell(r), deref(r.PaymentRef), r.DownloadedAt.Format(timeLayout)})
		if r.Amount != nil {
			total = total.Add(*r.Amount)
		}
	}
	t.AppendFooter(table.Row{"", "", total.StringFixed(2) + " EUR", "", fmt.Sprintf("%d invoices", len(records))})

	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func amountCell(r *models.InvoiceRecord) string {
	if r.Amount == nil {
		return "-"
	}
	currency := "EUR"
	if r.Currency != nil && *r.Currency != "" {
		currency = *r.Currency
	}
	return r.Amount.StringFixed(2) + " " + currency
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
