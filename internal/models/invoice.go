package models

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceRecord is the unit of persistence. A record is inserted at most once
// per invoice ID and never updated or deleted afterwards. Amount, currency
// and payment reference may all be absent when parsing failed; the record is
// still persisted so the invoice is never fetched again.
type InvoiceRecord struct {
	InvoiceID    string
	Filename     string
	Amount       *decimal.Decimal
	Currency     *string
	PaymentRef   *string
	DownloadedAt time.Time // UTC, second precision
}

// CandidateLink is a resolved absolute document URL plus its derived invoice
// ID. It only lives within a single acquisition run and is never persisted.
type CandidateLink struct {
	URL       string
	InvoiceID string
}

// InvoiceIDFromURL derives the stable invoice identifier from a document URL:
// the final path segment with its extension stripped.
func InvoiceIDFromURL(rawURL string) string {
	segment := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		segment = u.Path
	}
	base := path.Base(segment)
	return strings.TrimSuffix(base, path.Ext(base))
}
