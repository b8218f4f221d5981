// -----------------------------------------------------------------------
// Direct-HTTP Strategy - Cookie-bridged plain HTTP fetch
// -----------------------------------------------------------------------

package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
)

const acceptHeader = "application/pdf,application/octet-stream;q=0.9,*/*;q=0.8"

// DirectFetcher downloads documents with a plain HTTP client seeded with the
// automated session's cookies and identity headers, so the resource server
// treats it as the same authenticated session.
type DirectFetcher struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
	referer        string
	logger         arbor.ILogger
}

// Compile-time interface assertion
var _ Fetcher = (*DirectFetcher)(nil)

// NewDirectFetcher builds the bridged HTTP client from the browser session
func NewDirectFetcher(ctx context.Context, browser interfaces.Browser, referer string, timeout time.Duration, logger arbor.ILogger) (*DirectFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	cookies, err := browser.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session cookies: %w", err)
	}

	// Group cookies by domain so the jar accepts each one under a URL
	// matching its declared domain.
	cookiesByDomain := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			if base, err := url.Parse(referer); err == nil {
				domain = base.Host
			}
		}
		cookiesByDomain[domain] = append(cookiesByDomain[domain], &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	for domain, domainCookies := range cookiesByDomain {
		domainURL, err := url.Parse("https://" + domain + "/")
		if err != nil {
			continue
		}
		jar.SetCookies(domainURL, domainCookies)
	}

	userAgent, err := browser.UserAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session user agent: %w", err)
	}
	acceptLanguage, err := browser.AcceptLanguage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session language: %w", err)
	}

	return &DirectFetcher{
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		userAgent:      userAgent,
		acceptLanguage: acceptLanguage,
		referer:        referer,
		logger:         logger,
	}, nil
}

// Fetch issues a streamed GET for the link and returns validated PDF bytes
func (f *DirectFetcher) Fetch(ctx context.Context, link models.CandidateLink) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w: %w", err, models.ErrFetch)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", f.acceptLanguage)
	req.Header.Set("Referer", f.referer)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w: %w", err, models.ErrFetch)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s: %w", resp.StatusCode, link.URL, models.ErrFetch)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w: %w", err, models.ErrFetch)
	}

	if !IsPDF(data) {
		return nil, fmt.Errorf("no PDF header in payload from %s: %w", link.URL, models.ErrValidation)
	}
	return data, nil
}
