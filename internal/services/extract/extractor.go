// -----------------------------------------------------------------------
// Field Extractor - Extract structured invoice fields from PDF documents
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/models"
)

// currencyEUR is the only currency ever assigned; the report covers a
// single-market account.
const currencyEUR = "EUR"

// Amount patterns are applied in order; the first match wins
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Zahlbetrag\s+([\d.,]+)\s*€`),
	regexp.MustCompile(`(?i)Total\s+Amount[^\d]*([\d.,]+)`),
}

// Payment reference patterns, same first-match-wins ordering
var paymentRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Zahlungsreferenznummer\s+(\S+)`),
	regexp.MustCompile(`(?i)Payment\s+Reference\s+Number\s*[:#]?\s*(\S+)`),
}

// Fields holds the structured values scraped from an invoice document.
// Every field may be absent; extraction failure never blocks persistence.
type Fields struct {
	Amount     *decimal.Decimal
	Currency   *string
	PaymentRef *string
}

// Extractor turns raw PDF bytes into structured invoice fields
type Extractor struct {
	logger  arbor.ILogger
	tempDir string
}

// NewExtractor creates a new field extractor
func NewExtractor(logger arbor.ILogger) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "billhound-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Extractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

// Extract parses amount, currency and payment reference from PDF bytes.
// Fails soft: if text extraction errors, all fields come back absent.
func (e *Extractor) Extract(pdfBytes []byte) Fields {
	text, err := e.extractText(pdfBytes)
	if err != nil {
		e.logger.Warn().Err(err).Msg("PDF text extraction failed, persisting with absent fields")
		return Fields{}
	}
	return parseFields(text)
}

// parseFields applies the ordered pattern lists to extracted text
func parseFields(text string) Fields {
	var fields Fields

	for _, pattern := range amountPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if amount := normalizeAmount(m[1]); amount != nil {
			currency := currencyEUR
			fields.Amount = amount
			fields.Currency = &currency
			break
		}
	}

	for _, pattern := range paymentRefPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			ref := m[1]
			fields.PaymentRef = &ref
			break
		}
	}

	return fields
}

// extractText extracts plain text from PDF bytes. pdfcpu works on files, so
// the bytes go through a per-call temp file and content directory.
func (e *Extractor) extractText(pdfBytes []byte) (string, error) {
	stamp := time.Now().UnixNano()
	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("extract_%d.pdf", stamp))
	if err := os.WriteFile(tempFile, pdfBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w: %w", err, models.ErrParse)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(e.tempDir, fmt.Sprintf("pages_%d", stamp))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w: %w", err, models.ErrParse)
	}

	// Content files are named Content_page_N; stitch them back in page order
	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if text, ok := pageTexts[pageNum]; ok {
			if builder.Len() > 0 {
				builder.WriteString("\n\n")
			}
			builder.WriteString(text)
		}
	}
	return builder.String(), nil
}
