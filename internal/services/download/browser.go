// -----------------------------------------------------------------------
// Browser-Mediated Strategy - Native download with filesystem polling
// -----------------------------------------------------------------------

package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
)

// crdownloadSuffix marks an in-progress Chrome download
const crdownloadSuffix = ".crdownload"

// BrowserFetcher triggers the browser's native save-to-disk by navigating
// directly to the document link, then polls the download directory until the
// file appears and stabilizes.
type BrowserFetcher struct {
	browser      interfaces.Browser
	dir          string
	pollDeadline time.Duration
	pollInterval time.Duration
	logger       arbor.ILogger
}

// Compile-time interface assertion
var _ Fetcher = (*BrowserFetcher)(nil)

// NewBrowserFetcher creates the browser-mediated download strategy
func NewBrowserFetcher(browser interfaces.Browser, dir string, pollDeadline, pollInterval time.Duration, logger arbor.ILogger) *BrowserFetcher {
	return &BrowserFetcher{
		browser:      browser,
		dir:          dir,
		pollDeadline: pollDeadline,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Fetch navigates the session to the link and waits for the file to land in
// the download directory. The polled artifact is consumed: its bytes are
// returned and the file removed, leaving the engine to write the final name.
func (f *BrowserFetcher) Fetch(ctx context.Context, link models.CandidateLink) ([]byte, error) {
	before, err := f.snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot download directory: %w: %w", err, models.ErrFetch)
	}

	// Navigating straight to a download aborts the page load once the save
	// starts; that abort is expected and not a fetch failure.
	if err := f.browser.Navigate(ctx, link.URL); err != nil {
		f.logger.Debug().Err(err).Str("url", link.URL).Msg("Navigation ended while download started")
	}

	path := f.waitForDownload(ctx, link.InvoiceID, before)
	if path == "" {
		return nil, fmt.Errorf("download for %s not found within %s: %w", link.InvoiceID, f.pollDeadline, models.ErrFetch)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloaded file %s: %w: %w", filepath.Base(path), err, models.ErrFetch)
	}

	if !IsPDF(data) {
		// Delete the bad artifact so it never shadows a later attempt
		if err := os.Remove(path); err != nil {
			f.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Failed to delete non-PDF artifact")
		}
		return nil, fmt.Errorf("no PDF header in %s: %w", filepath.Base(path), models.ErrValidation)
	}

	if err := os.Remove(path); err != nil {
		f.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Failed to remove polled download artifact")
	}
	return data, nil
}

// waitForDownload polls for the expected filename, falling back to any new
// PDF in the directory (most recently modified wins). Returns "" on timeout.
func (f *BrowserFetcher) waitForDownload(ctx context.Context, invoiceID string, before map[string]bool) string {
	deadline := time.Now().Add(f.pollDeadline)
	expected := filepath.Join(f.dir, invoiceID+".pdf")

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ""
		}

		// The save is still in progress while the temporary suffix exists
		if _, err := os.Stat(expected + crdownloadSuffix); err == nil {
			f.sleep(ctx)
			continue
		}
		if info, err := os.Stat(expected); err == nil && info.Size() > 0 {
			return expected
		}

		if candidate := f.newestNewPDF(before); candidate != "" {
			if _, err := os.Stat(candidate + crdownloadSuffix); err == nil {
				f.sleep(ctx)
				continue
			}
			return candidate
		}
		f.sleep(ctx)
	}
	return ""
}

// newestNewPDF finds the most recently modified non-empty PDF that was not
// present before the navigation
func (f *BrowserFetcher) newestNewPDF(before map[string]bool) string {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return ""
	}

	var (
		newest     string
		newestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || before[entry.Name()] {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(f.dir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	return newest
}

func (f *BrowserFetcher) snapshot() (map[string]bool, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names[entry.Name()] = true
		}
	}
	return names, nil
}

func (f *BrowserFetcher) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(f.pollInterval):
	}
}
