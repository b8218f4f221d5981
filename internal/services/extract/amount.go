package extract

import (
	"strings"

	"github.com/shopspring/decimal"
)

// normalizeAmount turns a localized amount string into a decimal rounded to
// two places, or nil when unparsable.
//
// The last occurring comma or dot is taken as the decimal separator; the
// other punctuation is a thousands separator and stripped. This
// disambiguates "1.234,56" (continental) from "1,234.56" (Anglo) without
// locale configuration. No separator at all means an integer amount.
func normalizeAmount(raw string) *decimal.Decimal {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	var normalized string
	switch {
	case lastComma == -1 && lastDot == -1:
		normalized = cleaned
	case lastComma > lastDot:
		normalized = strings.ReplaceAll(cleaned, ".", "")
		normalized = strings.ReplaceAll(normalized, ",", ".")
	default:
		normalized = strings.ReplaceAll(cleaned, ",", "")
	}

	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return nil
	}
	value = value.Round(2)
	return &value
}
