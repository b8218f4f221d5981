package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/browsertest"
	"github.com/billhound/billhound/internal/common"
	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
	"github.com/billhound/billhound/internal/storage/sqlite"
)

const nextButtonSelector = `button[data-testid="next-button"]`

func testPipelineConfig(t *testing.T) *common.Config {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Account.Identifier = "buyer@example.com"
	config.Account.Secret = "secret"
	config.Download.Dir = filepath.Join(t.TempDir(), "invoices")
	config.Download.UseDirectHTTP = false
	config.Download.PolitenessDelay = 0
	config.Storage.Path = filepath.Join(t.TempDir(), "invoices.db")
	config.Timeouts.LinkWait = time.Second
	config.Timeouts.PageChangeWait = time.Second
	config.Timeouts.DownloadPollDeadline = 2 * time.Second
	config.Timeouts.DownloadPollInterval = 10 * time.Millisecond
	return config
}

func reportPage(hrefs []string, lastPage bool) string {
	html := "<html><body>"
	for _, href := range hrefs {
		html += `<a href="` + href + `">Rechnung</a>`
	}
	if lastPage {
		html += `<button data-testid="next-button" disabled>Weiter</button>`
	} else {
		html += `<button data-testid="next-button">Weiter</button>`
	}
	return html + "</body></html>"
}

// Walks two report pages against a store already holding one of the three
// invoices: the known one is left completely untouched while the two new
// ones are downloaded, named and persisted.
func TestRun_TwoPagesWithKnownInvoice(t *testing.T) {
	config := testPipelineConfig(t)
	logger := arbor.NewLogger()

	knownAmount := decimal.RequireFromString("12.34")
	knownCurrency := "EUR"
	knownRef := "REF-B"
	seedKnown := &models.InvoiceRecord{
		InvoiceID:  "inv-b",
		Filename:   "inv-b_12.34_EUR_REF-B.pdf",
		Amount:     &knownAmount,
		Currency:   &knownCurrency,
		PaymentRef: &knownRef,
	}
	db, err := sqlite.Open(config.Storage.Path, logger)
	require.NoError(t, err)
	seed := sqlite.NewInvoiceStorage(db, logger)
	require.NoError(t, seed.InsertIfAbsent(context.Background(), seedKnown))
	require.NoError(t, seed.Close())

	fake := browsertest.NewFakeBrowser()
	fake.Pages[config.Report.URL()] = reportPage([]string{
		"/b2b/aba/receipt/v2/inv-a.pdf",
		"/b2b/aba/receipt/v2/inv-b.pdf",
	}, false)
	fake.ClickHandlers[nextButtonSelector] = func() {
		fake.SetSource(reportPage([]string{"/b2b/aba/receipt/v2/inv-c.pdf"}, true))
	}
	// Navigating to a document link triggers the browser's native save
	fake.NavigateHook = func(url string) {
		if !strings.Contains(url, "/b2b/aba/receipt/") {
			return
		}
		name := models.InvoiceIDFromURL(url) + ".pdf"
		_ = os.MkdirAll(config.Download.Dir, 0755)
		_ = os.WriteFile(filepath.Join(config.Download.Dir, name), []byte("%PDF-1.4 "+name), 0644)
	}

	p := NewWithBrowser(config, logger, nil, func() (interfaces.Browser, error) {
		return fake, nil
	})

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Collected)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Skipped)
	assert.True(t, fake.Closed(), "the browser session is torn down after the run")

	db, err = sqlite.Open(config.Storage.Path, logger)
	require.NoError(t, err)
	store := sqlite.NewInvoiceStorage(db, logger)
	defer store.Close()

	records, err := store.Query(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 3)

	byID := make(map[string]*models.InvoiceRecord)
	for _, record := range records {
		byID[record.InvoiceID] = record
	}
	require.Contains(t, byID, "inv-a")
	require.Contains(t, byID, "inv-b")
	require.Contains(t, byID, "inv-c")

	// The already-known invoice keeps its original fields
	assert.Equal(t, "inv-b_12.34_EUR_REF-B.pdf", byID["inv-b"].Filename)
	require.NotNil(t, byID["inv-b"].Amount)
	assert.True(t, knownAmount.Equal(*byID["inv-b"].Amount))
	require.NotNil(t, byID["inv-b"].PaymentRef)
	assert.Equal(t, "REF-B", *byID["inv-b"].PaymentRef)

	// The new invoices land on disk; the known one is never re-fetched
	_, statErr := os.Stat(filepath.Join(config.Download.Dir, "inv-a.pdf"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(config.Download.Dir, "inv-c.pdf"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(config.Download.Dir, "inv-b.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

// A sign-in that never completes aborts the run before any collection
func TestRun_AuthenticationFailureIsFatal(t *testing.T) {
	config := testPipelineConfig(t)
	config.Timeouts.AuthWait = 50 * time.Millisecond

	fake := browsertest.NewFakeBrowser()
	fake.Redirects[config.Report.URL()] = config.Report.BaseURL + "/ap/signin?openid=1"
	// Identifier field never appears

	p := NewWithBrowser(config, arbor.NewLogger(), nil, func() (interfaces.Browser, error) {
		return fake, nil
	})

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAuthentication)
	assert.Equal(t, 0, result.Collected)
	assert.True(t, fake.Closed(), "the browser session is torn down on the failure path")
}
