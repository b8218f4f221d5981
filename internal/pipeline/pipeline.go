// -----------------------------------------------------------------------
// Acquisition Pipeline - Login, collect, download, persist in one run
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/browser"
	"github.com/billhound/billhound/internal/common"
	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
	"github.com/billhound/billhound/internal/services/collector"
	"github.com/billhound/billhound/internal/services/download"
	"github.com/billhound/billhound/internal/services/extract"
	"github.com/billhound/billhound/internal/services/session"
	"github.com/billhound/billhound/internal/storage/sqlite"
)

// Result summarizes one acquisition run
type Result struct {
	RunID     string
	Collected int
	Processed int
	Skipped   int
	Duration  time.Duration
}

// BrowserFactory produces the browser session a run drives. The default
// launches a local Chrome; substituting it decouples the pipeline from a
// real browser.
type BrowserFactory func() (interfaces.Browser, error)

// Pipeline wires the session controller, link collector and download engine
// into a single sequential acquisition run.
type Pipeline struct {
	config     *common.Config
	logger     arbor.ILogger
	sink       interfaces.LogSink
	newBrowser BrowserFactory
}

// New creates an acquisition pipeline driving a locally launched Chrome
func New(config *common.Config, logger arbor.ILogger, sink interfaces.LogSink) *Pipeline {
	p := &Pipeline{
		config: config,
		logger: logger,
		sink:   sink,
	}
	p.newBrowser = p.launchChrome
	return p
}

// NewWithBrowser creates an acquisition pipeline over an externally
// supplied browser session
func NewWithBrowser(config *common.Config, logger arbor.ILogger, sink interfaces.LogSink, factory BrowserFactory) *Pipeline {
	p := New(config, logger, sink)
	p.newBrowser = factory
	return p
}

func (p *Pipeline) launchChrome() (interfaces.Browser, error) {
	return browser.New(browser.Options{
		Headless:    !p.config.Browser.ShowWindow,
		NoSandbox:   p.config.Browser.NoSandbox,
		UserAgent:   p.config.Browser.UserAgent,
		DownloadDir: p.config.Download.Dir,
	}, p.logger)
}

// Run executes one full acquisition pass. The browser and store are torn
// down on every exit path; a cancelled context stops the run between items.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	result := &Result{RunID: uuid.New().String()[:8]}
	log := p.logger.WithCorrelationId(result.RunID)

	log.Info().
		Str("report_url", p.config.Report.URL()).
		Bool("direct_http", p.config.Download.UseDirectHTTP).
		Msg("Starting acquisition run")

	if err := os.MkdirAll(p.config.Download.Dir, 0755); err != nil {
		return result, fmt.Errorf("failed to create download directory: %w", err)
	}

	db, err := sqlite.Open(p.config.Storage.Path, log)
	if err != nil {
		return result, err
	}
	store := sqlite.NewInvoiceStorage(db, log)
	defer store.Close()

	b, err := p.newBrowser()
	if err != nil {
		return result, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer b.Close()

	controller := session.NewController(b, session.Config{
		ReportURL:       p.config.Report.URL(),
		ReportURLMarker: p.config.Report.ReportPath,
		AuthWait:        p.config.Timeouts.AuthWait,
	}, log, p.sink)

	if err := controller.Login(ctx, p.config.Account.Identifier, p.config.Account.Secret); err != nil {
		return result, err
	}

	links, err := collector.NewCollector(b, store, collector.Config{
		BaseURL:        p.config.Report.BaseURL,
		LinkWait:       p.config.Timeouts.LinkWait,
		PageChangeWait: p.config.Timeouts.PageChangeWait,
	}, log, p.sink).CollectNewLinks(ctx)
	if err != nil {
		return result, err
	}
	result.Collected = len(links)

	if len(links) == 0 {
		p.emit("No new invoices found")
		result.Duration = time.Since(started)
		return result, nil
	}
	p.emit(fmt.Sprintf("Found %d new invoices", len(links)))

	fetcher, err := p.newFetcher(ctx, b, log)
	if err != nil {
		return result, err
	}

	engine := download.NewEngine(fetcher, extract.NewExtractor(log), store,
		p.config.Download.Dir, p.config.Download.PolitenessDelay, log, p.sink)

	processed, err := engine.ProcessAll(ctx, links)
	result.Processed = processed.Processed
	result.Skipped = processed.Skipped
	result.Duration = time.Since(started)
	if err != nil {
		return result, err
	}

	log.Info().
		Int("collected", result.Collected).
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Str("duration", result.Duration.Round(time.Millisecond).String()).
		Msg("Acquisition run complete")
	return result, nil
}

// newFetcher selects the download strategy. The direct strategy bridges the
// authenticated session into a plain HTTP client; the browser strategy uses
// the session's native save-to-disk.
func (p *Pipeline) newFetcher(ctx context.Context, b interfaces.Browser, log arbor.ILogger) (download.Fetcher, error) {
	if p.config.Download.UseDirectHTTP {
		fetcher, err := download.NewDirectFetcher(ctx, b, p.config.Report.URL(), p.config.Timeouts.FetchTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("failed to bridge browser session: %w: %w", err, models.ErrFetch)
		}
		return fetcher, nil
	}
	return download.NewBrowserFetcher(b, p.config.Download.Dir,
		p.config.Timeouts.DownloadPollDeadline, p.config.Timeouts.DownloadPollInterval, log), nil
}

func (p *Pipeline) emit(line string) {
	p.logger.Info().Msg(line)
	if p.sink != nil {
		p.sink(line)
	}
}
