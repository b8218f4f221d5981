package collector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/browsertest"
	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
	"github.com/billhound/billhound/internal/storage/sqlite"
)

const testBaseURL = "https://shop.example"

func pageWithLinks(next string, hrefs ...string) string {
	html := "<html><body>"
	for _, href := range hrefs {
		html += `<a href="` + href + `">Rechnung</a>`
	}
	switch next {
	case "enabled":
		html += `<button data-testid="next-button">Weiter</button>`
	case "disabled":
		html += `<button data-testid="next-button" disabled>Weiter</button>`
	case "status-disabled":
		html += `<button data-testid="next-button" status="disabled">Weiter</button>`
	}
	return html + "</body></html>"
}

func setupStore(t *testing.T) interfaces.InvoiceStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	store := sqlite.NewInvoiceStorage(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig() Config {
	return Config{
		BaseURL:        testBaseURL,
		LinkWait:       time.Second,
		PageChangeWait: time.Second,
	}
}

func TestCollectNewLinks_TwoPagesWithKnownInvoice(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// B is already in the store and must be dropped silently
	require.NoError(t, store.InsertIfAbsent(ctx, &models.InvoiceRecord{
		InvoiceID: "B",
		Filename:  "B.pdf",
	}))

	fake := browsertest.NewFakeBrowser()
	fake.SetSource(pageWithLinks("enabled",
		"/b2b/aba/receipt/v2/B.pdf",
		"/b2b/aba/receipt/v2/A.pdf",
	))
	fake.ClickHandlers[`button[data-testid="next-button"]`] = func() {
		fake.SetSource(pageWithLinks("disabled", "/b2b/aba/receipt/v2/C.pdf"))
	}

	c := NewCollector(fake, store, testConfig(), arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(ctx)

	require.NoError(t, err)
	require.Len(t, links, 2)
	// Sorted lexicographically by URL: A before C
	assert.Equal(t, testBaseURL+"/b2b/aba/receipt/v2/A.pdf", links[0].URL)
	assert.Equal(t, "A", links[0].InvoiceID)
	assert.Equal(t, testBaseURL+"/b2b/aba/receipt/v2/C.pdf", links[1].URL)
	assert.Equal(t, "C", links[1].InvoiceID)
}

func TestCollectNewLinks_NoNextButtonEndsPagination(t *testing.T) {
	store := setupStore(t)
	fake := browsertest.NewFakeBrowser()
	fake.SetSource(pageWithLinks("", "/b2b/aba/receipt/v2/X.pdf"))

	c := NewCollector(fake, store, testConfig(), arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(context.Background())

	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "X", links[0].InvoiceID)
}

func TestCollectNewLinks_StatusDisabledEndsPagination(t *testing.T) {
	store := setupStore(t)
	fake := browsertest.NewFakeBrowser()
	fake.SetSource(pageWithLinks("status-disabled", "/b2b/aba/receipt/v2/Y.pdf"))

	c := NewCollector(fake, store, testConfig(), arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(context.Background())

	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestCollectNewLinks_InterceptedClickFallsBackToJS(t *testing.T) {
	store := setupStore(t)
	fake := browsertest.NewFakeBrowser()
	selector := `button[data-testid="next-button"]`

	fake.SetSource(pageWithLinks("enabled", "/b2b/aba/receipt/v2/P1.pdf"))
	fake.ClickErrors[selector] = errors.New("element click intercepted")
	fake.JSClickHandlers[selector] = func() {
		fake.SetSource(pageWithLinks("disabled", "/b2b/aba/receipt/v2/P2.pdf"))
	}

	c := NewCollector(fake, store, testConfig(), arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(context.Background())

	require.NoError(t, err)
	require.Len(t, links, 2)
}

func TestCollectNewLinks_UnchangedPageEndsPagination(t *testing.T) {
	store := setupStore(t)
	fake := browsertest.NewFakeBrowser()
	selector := `button[data-testid="next-button"]`

	fake.SetSource(pageWithLinks("enabled", "/b2b/aba/receipt/v2/Q1.pdf"))
	fake.ClickHandlers[selector] = func() {} // click succeeds, page never changes

	config := testConfig()
	config.PageChangeWait = 100 * time.Millisecond

	c := NewCollector(fake, store, config, arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(context.Background())

	require.NoError(t, err)
	// The first page's link is kept even though pagination stalled
	require.Len(t, links, 1)
	assert.Equal(t, "Q1", links[0].InvoiceID)
}

func TestCollectNewLinks_EmptyReportMarker(t *testing.T) {
	store := setupStore(t)
	fake := browsertest.NewFakeBrowser()
	fake.SetSource("<html><body>Keine Rechnungen vorhanden</body></html>")

	c := NewCollector(fake, store, testConfig(), arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(context.Background())

	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestCollectNewLinks_AbsoluteLinksKept(t *testing.T) {
	store := setupStore(t)
	fake := browsertest.NewFakeBrowser()
	fake.SetSource(pageWithLinks("disabled",
		"https://other.example/b2b/aba/receipt/v2/Z.pdf"))

	c := NewCollector(fake, store, testConfig(), arbor.NewLogger(), nil)
	links, err := c.CollectNewLinks(context.Background())

	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://other.example/b2b/aba/receipt/v2/Z.pdf", links[0].URL)
}
