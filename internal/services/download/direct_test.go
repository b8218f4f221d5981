package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/browsertest"
	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
)

func newDirectFetcherForServer(t *testing.T, server *httptest.Server) *DirectFetcher {
	t.Helper()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	fake := browsertest.NewFakeBrowser()
	fake.SessionCookies = []interfaces.Cookie{
		{Name: "session-id", Value: "abc123", Domain: serverURL.Hostname(), Path: "/"},
	}

	referer := server.URL + "/b2b/aba/reports"
	f, err := NewDirectFetcher(context.Background(), fake, referer, 5*time.Second, arbor.NewLogger())
	require.NoError(t, err)
	return f
}

func TestDirectFetcher_Fetch_BridgesSessionIdentity(t *testing.T) {
	var gotCookie, gotUserAgent, gotLanguage, gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotUserAgent = r.Header.Get("User-Agent")
		gotLanguage = r.Header.Get("Accept-Language")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("%PDF-1.7\nfake document body"))
	}))
	defer server.Close()

	f := newDirectFetcherForServer(t, server)
	link := models.CandidateLink{URL: server.URL + "/b2b/aba/receipt/v2/inv-100.pdf", InvoiceID: "inv-100"}

	data, err := f.Fetch(context.Background(), link)
	require.NoError(t, err)
	assert.True(t, IsPDF(data))

	assert.Contains(t, gotCookie, "session-id=abc123")
	assert.Equal(t, "FakeBrowser/1.0", gotUserAgent)
	assert.Equal(t, "de-DE", gotLanguage)
	assert.Equal(t, server.URL+"/b2b/aba/reports", gotReferer)
}

func TestDirectFetcher_Fetch_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer server.Close()

	f := newDirectFetcherForServer(t, server)

	_, err := f.Fetch(context.Background(), models.CandidateLink{URL: server.URL + "/inv.pdf", InvoiceID: "inv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFetch)
}

func TestDirectFetcher_Fetch_RejectsNonPDFPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Session expired, please sign in</body></html>"))
	}))
	defer server.Close()

	f := newDirectFetcherForServer(t, server)

	_, err := f.Fetch(context.Background(), models.CandidateLink{URL: server.URL + "/inv.pdf", InvoiceID: "inv"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}
