// -----------------------------------------------------------------------
// Download Engine - Per-item fetch, parse, name, write, persist loop
// -----------------------------------------------------------------------

package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
	"github.com/billhound/billhound/internal/services/extract"
)

// Fetcher is one download strategy: it produces validated PDF bytes for a
// link or an error classifying the skip. Strategies never abort the whole
// run over a single item.
type Fetcher interface {
	Fetch(ctx context.Context, link models.CandidateLink) ([]byte, error)
}

// Result summarizes a processing pass over the collected links
type Result struct {
	Processed int
	Skipped   int
}

// Engine drives the per-item loop: fetch, extract fields, build the
// artifact name, write the file, persist the record. Strictly sequential;
// one item completes before the next begins.
type Engine struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	store     interfaces.InvoiceStorage
	dir       string
	limiter   *rate.Limiter
	logger    arbor.ILogger
	sink      interfaces.LogSink
}

// NewEngine creates a download engine with the given strategy. A zero
// politeness delay disables rate limiting.
func NewEngine(fetcher Fetcher, extractor *extract.Extractor, store interfaces.InvoiceStorage, dir string, politenessDelay time.Duration, logger arbor.ILogger, sink interfaces.LogSink) *Engine {
	limit := rate.Inf
	if politenessDelay > 0 {
		limit = rate.Every(politenessDelay)
	}
	return &Engine{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		dir:       dir,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		sink:      sink,
	}
}

// ProcessAll works through the links sequentially. Per-item failures are
// logged and skipped; storage failures and cancellation abort the run.
// Cancellation is only honored between items so the write-then-persist
// ordering of the in-flight item is never torn.
func (e *Engine) ProcessAll(ctx context.Context, links []models.CandidateLink) (Result, error) {
	var result Result
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return result, err
		}

		if err := e.processOne(ctx, link); err != nil {
			if errors.Is(err, models.ErrStorage) {
				return result, err
			}
			e.emit(fmt.Sprintf("Skipped %s: %v", link.InvoiceID, err))
			result.Skipped++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (e *Engine) processOne(ctx context.Context, link models.CandidateLink) error {
	e.emit(fmt.Sprintf("Downloading %s", link.InvoiceID))

	data, err := e.fetcher.Fetch(ctx, link)
	if err != nil {
		return err
	}

	// Once the payload is in hand the item runs to completion on a detached
	// context. A cancellation landing mid-item must not tear the
	// write-then-persist pair or surface as a storage failure; the loop
	// honors it before the next item.
	ctx = context.WithoutCancel(ctx)

	fields := e.extractor.Extract(data)
	filename := extract.BuildFilename(link.InvoiceID, fields.Amount, fields.Currency, fields.PaymentRef)

	record := &models.InvoiceRecord{
		InvoiceID:  link.InvoiceID,
		Filename:   filename,
		Amount:     fields.Amount,
		Currency:   fields.Currency,
		PaymentRef: fields.PaymentRef,
	}

	destination := filepath.Join(e.dir, filename)
	if _, err := os.Stat(destination); err == nil {
		// Crash-recovery case: the file exists from a run that downloaded
		// it but failed before persisting. Register the record, skip the
		// write.
		e.emit(fmt.Sprintf("%s already exists, registering record", filename))
		return e.store.InsertIfAbsent(ctx, record)
	}

	// Write-then-persist, never the other way around: a crash between the
	// two leaves an unregistered file, which the branch above recovers.
	if err := os.WriteFile(destination, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w: %w", filename, err, models.ErrFetch)
	}
	if err := e.store.InsertIfAbsent(ctx, record); err != nil {
		return err
	}

	e.emit(fmt.Sprintf("Saved %s", filename))
	return nil
}

func (e *Engine) emit(line string) {
	e.logger.Info().Msg(line)
	if e.sink != nil {
		e.sink(line)
	}
}
