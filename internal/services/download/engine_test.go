package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/billhound/billhound/internal/interfaces"
	"github.com/billhound/billhound/internal/models"
	"github.com/billhound/billhound/internal/services/extract"
	"github.com/billhound/billhound/internal/storage/sqlite"
)

// scriptedFetcher serves canned payloads or errors keyed by invoice ID
type scriptedFetcher struct {
	payloads map[string][]byte
	failures map[string]error
	calls    []string
}

func (s *scriptedFetcher) Fetch(_ context.Context, link models.CandidateLink) ([]byte, error) {
	s.calls = append(s.calls, link.InvoiceID)
	if err, ok := s.failures[link.InvoiceID]; ok {
		return nil, err
	}
	return s.payloads[link.InvoiceID], nil
}

// failingStore rejects every insert to simulate a broken database
type failingStore struct {
	interfaces.InvoiceStorage
}

func (failingStore) InsertIfAbsent(context.Context, *models.InvoiceRecord) error {
	return fmt.Errorf("disk I/O error: %w", models.ErrStorage)
}

func setupEngineStore(t *testing.T) interfaces.InvoiceStorage {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	store := sqlite.NewInvoiceStorage(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T, fetcher Fetcher, store interfaces.InvoiceStorage, dir string) *Engine {
	t.Helper()
	logger := arbor.NewLogger()
	return NewEngine(fetcher, extract.NewExtractor(logger), store, dir, 0, logger, nil)
}

func TestEngine_ProcessAll_WritesFileThenRecord(t *testing.T) {
	dir := t.TempDir()
	store := setupEngineStore(t)
	fetcher := &scriptedFetcher{payloads: map[string][]byte{
		"inv-1": []byte("%PDF-1.7 payload one"),
		"inv-2": []byte("%PDF-1.7 payload two"),
	}}
	engine := newTestEngine(t, fetcher, store, dir)

	result, err := engine.ProcessAll(context.Background(), []models.CandidateLink{
		testLink("inv-1"),
		testLink("inv-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Skipped)

	// Payloads are not parseable PDFs, so naming falls back to the bare ID
	data, readErr := os.ReadFile(filepath.Join(dir, "inv-1.pdf"))
	require.NoError(t, readErr)
	assert.Equal(t, []byte("%PDF-1.7 payload one"), data)

	exists, existsErr := store.Exists(context.Background(), "inv-2")
	require.NoError(t, existsErr)
	assert.True(t, exists)
}

func TestEngine_ProcessAll_PerItemFailureContinues(t *testing.T) {
	dir := t.TempDir()
	store := setupEngineStore(t)
	fetcher := &scriptedFetcher{
		payloads: map[string][]byte{
			"inv-ok": []byte("%PDF-1.7 good"),
		},
		failures: map[string]error{
			"inv-bad": fmt.Errorf("HTTP 403: %w", models.ErrFetch),
		},
	}
	engine := newTestEngine(t, fetcher, store, dir)

	result, err := engine.ProcessAll(context.Background(), []models.CandidateLink{
		testLink("inv-bad"),
		testLink("inv-ok"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"inv-bad", "inv-ok"}, fetcher.calls)

	exists, existsErr := store.Exists(context.Background(), "inv-bad")
	require.NoError(t, existsErr)
	assert.False(t, exists, "a skipped item must leave no record")
}

func TestEngine_ProcessAll_StorageFailureAborts(t *testing.T) {
	dir := t.TempDir()
	fetcher := &scriptedFetcher{payloads: map[string][]byte{
		"inv-1": []byte("%PDF-1.7 one"),
		"inv-2": []byte("%PDF-1.7 two"),
	}}
	engine := newTestEngine(t, fetcher, failingStore{}, dir)

	result, err := engine.ProcessAll(context.Background(), []models.CandidateLink{
		testLink("inv-1"),
		testLink("inv-2"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, []string{"inv-1"}, fetcher.calls, "the run must stop at the first storage failure")
}

func TestEngine_ProcessAll_ExistingFileStillRegistered(t *testing.T) {
	dir := t.TempDir()
	store := setupEngineStore(t)
	payload := []byte("%PDF-1.7 recovered")
	// A file left behind by a run that crashed between write and persist
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inv-7.pdf"), payload, 0644))

	fetcher := &scriptedFetcher{payloads: map[string][]byte{"inv-7": payload}}
	engine := newTestEngine(t, fetcher, store, dir)

	result, err := engine.ProcessAll(context.Background(), []models.CandidateLink{testLink("inv-7")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	exists, existsErr := store.Exists(context.Background(), "inv-7")
	require.NoError(t, existsErr)
	assert.True(t, exists)
}

func TestEngine_ProcessAll_CancellationBetweenItems(t *testing.T) {
	dir := t.TempDir()
	store := setupEngineStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &cancellingFetcher{cancel: cancel}
	engine := newTestEngine(t, fetcher, store, dir)

	result, err := engine.ProcessAll(ctx, []models.CandidateLink{
		testLink("inv-1"),
		testLink("inv-2"),
		testLink("inv-3"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, models.ErrStorage), "a cancellation must not surface as a storage failure")
	assert.Equal(t, 1, result.Processed, "the in-flight item completes before the run stops")

	exists, existsErr := store.Exists(context.Background(), "inv-1")
	require.NoError(t, existsErr)
	assert.True(t, exists, "the in-flight item's record lands despite the cancel")

	_, statErr := os.Stat(filepath.Join(dir, "inv-2.pdf"))
	assert.True(t, os.IsNotExist(statErr), "items after the cancel must not start")
}

func TestEngine_ProcessAll_PolitenessDelayBetweenItems(t *testing.T) {
	dir := t.TempDir()
	store := setupEngineStore(t)
	fetcher := &scriptedFetcher{payloads: map[string][]byte{
		"inv-1": []byte("%PDF-1.7 a"),
		"inv-2": []byte("%PDF-1.7 b"),
		"inv-3": []byte("%PDF-1.7 c"),
	}}
	logger := arbor.NewLogger()
	delay := 30 * time.Millisecond
	engine := NewEngine(fetcher, extract.NewExtractor(logger), store, dir, delay, logger, nil)

	start := time.Now()
	result, err := engine.ProcessAll(context.Background(), []models.CandidateLink{
		testLink("inv-1"),
		testLink("inv-2"),
		testLink("inv-3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
}

// cancellingFetcher cancels the run after serving its first item
type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (c *cancellingFetcher) Fetch(_ context.Context, link models.CandidateLink) ([]byte, error) {
	defer c.cancel()
	return []byte("%PDF-1.7 " + link.InvoiceID), nil
}
