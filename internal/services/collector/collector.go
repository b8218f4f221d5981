// -----------------------------------------------------------------------
// Link Collector - Paginates the report and collects new invoice links
// -----------------------------------------------------------------------

package collector

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
)

// Fixed markup contract with the report page
const (
	pdfLinkSelector    = `a[href*="/b2b/aba/receipt/v2/"][href$=".pdf"]`
	nextButtonSelector = `button[data-testid="next-button"]`

	// emptyMarker appears in the page when the report has no invoices
	emptyMarker = "Keine Rechnungen"

	pollInterval = 500 * time.Millisecond
)

// Config holds the collector parameters
type Config struct {
	BaseURL        string        // origin used to resolve relative hrefs
	LinkWait       time.Duration // bound on waiting for links per page
	PageChangeWait time.Duration // bound on waiting for pagination to take effect
}

// Collector walks the paginated report and accumulates links whose invoice
// IDs are not yet in the store.
type Collector struct {
	browser interfaces.Browser
	store   interfaces.InvoiceStorage
	config  Config
	logger  arbor.ILogger
	sink    interfaces.LogSink
}

// NewCollector creates a link collector
func NewCollector(browser interfaces.Browser, store interfaces.InvoiceStorage, config Config, logger arbor.ILogger, sink interfaces.LogSink) *Collector {
	return &Collector{
		browser: browser,
		store:   store,
		config:  config,
		logger:  logger,
		sink:    sink,
	}
}

// CollectNewLinks scans every report page and returns the deduplicated set
// of links not yet present in the store, sorted lexicographically by URL so
// re-runs are deterministic. Pagination failures end the scan early but keep
// the links collected so far.
func (c *Collector) CollectNewLinks(ctx context.Context) ([]models.CandidateLink, error) {
	var collected []models.CandidateLink
	seen := make(map[string]bool)
	page := 1

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.emit(fmt.Sprintf("Scanning page %d ...", page))

		html, err := c.waitForLinks(ctx)
		if err != nil {
			return nil, err
		}

		for _, link := range c.extractLinks(html) {
			if seen[link.URL] {
				continue
			}
			seen[link.URL] = true

			known, err := c.store.Exists(ctx, link.InvoiceID)
			if err != nil {
				return nil, err
			}
			if known {
				// Already downloaded in an earlier run, dropped silently
				continue
			}
			collected = append(collected, link)
		}

		proceed, err := c.advancePage(ctx, html)
		if err != nil {
			return nil, err
		}
		if !proceed {
			break
		}
		page++
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].URL < collected[j].URL
	})
	return collected, nil
}

// waitForLinks polls the page source until at least one matching document
// link or the "no invoices" marker is present. Running out the deadline is a
// warning, not a failure: the page is treated as having zero links.
func (c *Collector) waitForLinks(ctx context.Context) (string, error) {
	deadline := time.Now().Add(c.config.LinkWait)
	var html string

	for {
		var err error
		html, err = c.browser.PageSource(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read page source: %w: %w", err, models.ErrNavigationTimeout)
		}
		if c.hasLinks(html) || strings.Contains(html, emptyMarker) {
			return html, nil
		}
		if time.Now().After(deadline) {
			c.logger.Warn().Str("timeout", c.config.LinkWait.String()).Msg("No document links found within the time limit")
			return html, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Collector) hasLinks(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(pdfLinkSelector).Length() > 0
}

// extractLinks pulls all matching document links out of the page, resolving
// relative hrefs against the configured base origin.
func (c *Collector) extractLinks(html string) []models.CandidateLink {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse page for link extraction")
		return nil
	}

	var links []models.CandidateLink
	doc.Find(pdfLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		resolved := href
		if !strings.HasPrefix(href, "http") {
			base, err := url.Parse(c.config.BaseURL)
			if err != nil {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				c.logger.Warn().Str("href", href).Msg("Skipping unparsable link")
				return
			}
			resolved = base.ResolveReference(ref).String()
		}
		links = append(links, models.CandidateLink{
			URL:       resolved,
			InvoiceID: models.InvoiceIDFromURL(resolved),
		})
	})
	return links
}

// advancePage locates and clicks the pagination control. Returns false when
// pagination has ended, either normally (no control, disabled state) or
// because the page never changed after the click.
func (c *Collector) advancePage(ctx context.Context, html string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, nil
	}

	next := doc.Find(nextButtonSelector).First()
	if next.Length() == 0 {
		c.emit("Next button not found, stopping.")
		return false, nil
	}

	_, disabled := next.Attr("disabled")
	if status, _ := next.Attr("status"); disabled || status == "disabled" {
		c.emit("Last page reached.")
		return false, nil
	}

	previous, err := c.browser.PageSource(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to snapshot page before pagination: %w: %w", err, models.ErrNavigationTimeout)
	}

	if err := c.browser.Click(ctx, nextButtonSelector); err != nil {
		// Click may be intercepted by an overlay; scroll into view and
		// click programmatically instead.
		c.logger.Debug().Err(err).Msg("Next button click intercepted, retrying via script")
		if err := c.browser.ClickJS(ctx, nextButtonSelector); err != nil {
			c.emit("Next button does not respond, stopping.")
			return false, nil
		}
	}

	if !c.waitForPageChange(ctx, previous) {
		c.emit("Page change not detected, stopping.")
		return false, nil
	}
	return true, nil
}

// waitForPageChange polls until the raw page source differs from the
// pre-click snapshot
func (c *Collector) waitForPageChange(ctx context.Context, previous string) bool {
	deadline := time.Now().Add(c.config.PageChangeWait)
	for {
		html, err := c.browser.PageSource(ctx)
		if err == nil && html != previous {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

func (c *Collector) emit(line string) {
	c.logger.Info().Msg(line)
	if c.sink != nil {
		c.sink(line)
	}
}
