package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// maxComponentLen bounds each filename component to keep the full path
	// inside filesystem limits.
	maxComponentLen = 80

	invalidFilenameChars = `<>:"/\|?*`
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// BuildFilename assembles the artifact name
// invoice_id[_amount_currency][_payment_ref].pdf with every component
// independently sanitized. Sanitization never yields a degenerate name: an
// emptied first component falls back to "rechnung", later ones to "teil".
func BuildFilename(invoiceID string, amount *decimal.Decimal, currency *string, paymentRef *string) string {
	parts := []string{invoiceID}
	if amount != nil && currency != nil && *currency != "" {
		parts = append(parts, amount.StringFixed(2)+"_"+*currency)
	}
	if paymentRef != nil && *paymentRef != "" {
		parts = append(parts, *paymentRef)
	}

	safeParts := make([]string, 0, len(parts))
	for i, raw := range parts {
		safe := sanitizeComponent(raw)
		if safe == "" {
			if i == 0 {
				safe = "rechnung"
			} else {
				safe = "teil"
			}
		}
		if runes := []rune(safe); len(runes) > maxComponentLen {
			safe = string(runes[:maxComponentLen])
		}
		safeParts = append(safeParts, safe)
	}
	return strings.Join(safeParts, "_") + ".pdf"
}

// sanitizeComponent replaces characters illegal in filesystem names and
// control characters with underscores, collapses whitespace runs and strips
// leading/trailing dots.
func sanitizeComponent(part string) string {
	var builder strings.Builder
	for _, r := range part {
		if r < 32 || strings.ContainsRune(invalidFilenameChars, r) {
			builder.WriteRune('_')
		} else {
			builder.WriteRune(r)
		}
	}
	sanitized := whitespaceRun.ReplaceAllString(strings.TrimSpace(builder.String()), "_")
	sanitized = strings.Trim(sanitized, ".")
	// A component reduced to nothing but replacement underscores carries no
	// information; treat it as empty so the placeholder kicks in.
	if strings.Trim(sanitized, "_") == "" {
		return ""
	}
	return sanitized
}
