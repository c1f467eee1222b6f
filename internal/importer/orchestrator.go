package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pagevault/pagevault/internal/chunker"
	"github.com/pagevault/pagevault/internal/embedstore"
	"github.com/pagevault/pagevault/internal/extract"
	"github.com/pagevault/pagevault/internal/storage"
)

// Options tune batching, pacing, and retry behavior for a run. Zero delays
// take the defaults; pass a negative delay to disable pacing entirely.
type Options struct {
	BatchSize            int           // concurrent items per batch; default 5
	DelayBetweenBatches  time.Duration // pause between batches; default 1s
	DelayBetweenRequests time.Duration // retry backoff unit; default 500ms
	MaxRetries           int           // extraction retries after the first attempt; default 2
	ChunkSize            int           // characters per chunk; default chunker.DefaultSize
	ChunkOverlap         int           // overlap between chunks; default chunker.DefaultOverlap
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 5
	}
	if o.DelayBetweenBatches < 0 {
		o.DelayBetweenBatches = 0
	} else if o.DelayBetweenBatches == 0 {
		o.DelayBetweenBatches = time.Second
	}
	if o.DelayBetweenRequests == 0 {
		o.DelayBetweenRequests = 500 * time.Millisecond
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = chunker.DefaultOverlap
	}
}

// Result records the outcome for one processed item.
type Result struct {
	URL       string `json:"url"`
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
	ArchiveID string `json:"archive_id,omitempty"`
}

// Summary accumulates outcomes for a whole run.
// Total == Successful + Failed + Skipped; pre-existing duplicates collapse
// into Skipped and are additionally counted in Duplicates. Results holds
// one entry per item that was not a pre-existing duplicate, in completion
// order.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Duplicates int      `json:"duplicates"`
	Results    []Result `json:"results"`
}

// Progress is the cumulative state passed to the progress callback after
// each completed item. Purely observational.
type Progress struct {
	Processed     int
	Total         int
	Successful    int
	Failed        int
	CurrentURL    string
	CurrentResult Result
}

// ProgressFunc receives progress updates. Callbacks run serialized; keep
// them fast.
type ProgressFunc func(Progress)

// ArchiveStore is the subset of storage the orchestrator needs.
type ArchiveStore interface {
	GetArchiveByURL(userID, url string) (storage.Archive, error)
	CreateArchive(a storage.Archive) error
}

// ChunkIngestor routes chunks into the content-addressable embedding store.
type ChunkIngestor interface {
	EnsureEmbedded(ctx context.Context, req embedstore.Request) (string, error)
}

// Orchestrator runs imports end to end: partition, extract, archive, chunk,
// embed.
type Orchestrator struct {
	store     ArchiveStore
	detector  *Detector
	extractor extract.Extractor
	chunks    ChunkIngestor
	logger    *slog.Logger
}

// NewOrchestrator wires an Orchestrator from its collaborators.
func NewOrchestrator(store ArchiveStore, detector *Detector, extractor extract.Extractor, chunks ChunkIngestor) *Orchestrator {
	return &Orchestrator{
		store:     store,
		detector:  detector,
		extractor: extractor,
		chunks:    chunks,
		logger:    slog.Default(),
	}
}

// Run imports items for the user. Only validation fails the call; every
// other failure is recorded per item and the run drains to a Summary.
// Cancelling ctx stops new batches and new items; in-flight items finish
// and the partial Summary is returned.
func (o *Orchestrator) Run(ctx context.Context, items []Item, userID string, opts Options, onProgress ProgressFunc) (*Summary, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Reason: "no items to import"}
	}
	opts.applyDefaults()

	fresh, duplicates := o.detector.Partition(ctx, items, userID)

	summary := &Summary{
		Total:      len(items),
		Skipped:    len(duplicates),
		Duplicates: len(duplicates),
	}

	acc := &accumulator{
		summary:    summary,
		total:      len(fresh),
		onProgress: onProgress,
	}

	for start := 0; start < len(fresh); start += opts.BatchSize {
		if ctx.Err() != nil {
			o.logger.Info("import cancelled, skipping remaining batches",
				"user_id", userID, "remaining", len(fresh)-start)
			break
		}

		end := start + opts.BatchSize
		if end > len(fresh) {
			end = len(fresh)
		}

		var g errgroup.Group
		g.SetLimit(opts.BatchSize)
		for _, item := range fresh[start:end] {
			item := item
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				acc.record(o.processItem(ctx, item, userID, opts))
				return nil
			})
		}
		g.Wait()

		// Rate-limit courtesy toward the extraction and embedding
		// providers; skipped after the final batch.
		if end < len(fresh) && ctx.Err() == nil {
			sleepCtx(ctx, opts.DelayBetweenBatches)
		}
	}

	return summary, nil
}

// processItem handles a single URL: re-check, extract with retries,
// archive, chunk, embed.
func (o *Orchestrator) processItem(ctx context.Context, item Item, userID string, opts Options) Result {
	// Defense against a duplicate created since partitioning. Best-effort;
	// the store's uniqueness constraint is the backstop.
	if _, err := o.store.GetArchiveByURL(userID, item.URL); err == nil {
		return Result{URL: item.URL, Skipped: true}
	}

	doc, err := o.extractWithRetries(ctx, item.URL, opts)
	if err != nil {
		return Result{URL: item.URL, Error: err.Error()}
	}

	archive, result := o.createArchive(item, userID, doc)
	if result != nil {
		return *result
	}

	o.ingestChunks(ctx, archive, doc, opts)

	return Result{URL: item.URL, Success: true, ArchiveID: archive.ID}
}

// extractWithRetries calls the extractor up to MaxRetries+1 times, sleeping
// DelayBetweenRequests * attemptNumber between attempts (linear backoff).
func (o *Orchestrator) extractWithRetries(ctx context.Context, url string, opts Options) (*extract.Document, error) {
	attempts := opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		doc, err := o.extractor.Extract(ctx, url)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		o.logger.Warn("extraction failed", "url", url, "attempt", attempt, "error", err)

		if attempt < attempts {
			if !sleepCtx(ctx, opts.DelayBetweenRequests*time.Duration(attempt)) {
				break
			}
		}
	}
	return nil, fmt.Errorf("extraction failed after %d attempts: %w", attempts, lastErr)
}

// createArchive persists the archive row. A uniqueness violation means a
// concurrent import won the race; the item is reported as skipped.
func (o *Orchestrator) createArchive(item Item, userID string, doc *extract.Document) (storage.Archive, *Result) {
	title := doc.Title
	if title == "" {
		title = item.Title
	}
	tags, _ := json.Marshal(item.Tags)

	archive := storage.Archive{
		ID:               uuid.New().String(),
		UserID:           userID,
		URL:              item.URL,
		Title:            title,
		Description:      doc.Description,
		Text:             doc.Text,
		Markdown:         doc.Markdown,
		Tags:             string(tags),
		WordCount:        doc.WordCount,
		ReadingTime:      doc.ReadingTime,
		ExtractionMethod: doc.Method,
		CreatedAt:        time.Now().UTC(),
	}

	err := o.store.CreateArchive(archive)
	if errors.Is(err, storage.ErrDuplicate) {
		return storage.Archive{}, &Result{URL: item.URL, Skipped: true}
	}
	if err != nil {
		return storage.Archive{}, &Result{URL: item.URL, Error: fmt.Sprintf("creating archive: %v", err)}
	}
	return archive, nil
}

// ingestChunks splits the document and routes every chunk through the
// embedding store. Chunk failures are logged and skipped; they never fail
// the owning document.
func (o *Orchestrator) ingestChunks(ctx context.Context, archive storage.Archive, doc *extract.Document, opts Options) {
	combined := archive.Title + "\n\n" + doc.Description + "\n\n" + doc.Text
	for _, chunk := range chunker.Split(combined, opts.ChunkSize, opts.ChunkOverlap) {
		_, err := o.chunks.EnsureEmbedded(ctx, embedstore.Request{
			UserID:    archive.UserID,
			ArchiveID: archive.ID,
			SourceURL: archive.URL,
			Tags:      archive.Tags,
			Chunk:     chunk,
		})
		if err != nil {
			o.logger.Warn("storing chunk failed, continuing",
				"url", archive.URL, "chunk", chunk.Index, "error", err)
		}
	}
}

// accumulator is the only shared mutable state during a batch: it guards
// summary updates and serializes progress callbacks.
type accumulator struct {
	mu         sync.Mutex
	summary    *Summary
	total      int
	processed  int
	onProgress ProgressFunc
}

func (a *accumulator) record(r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.processed++
	a.summary.Results = append(a.summary.Results, r)
	switch {
	case r.Success:
		a.summary.Successful++
	case r.Skipped:
		a.summary.Skipped++
		a.summary.Duplicates++
	default:
		a.summary.Failed++
	}

	if a.onProgress != nil {
		a.onProgress(Progress{
			Processed:     a.processed,
			Total:         a.total,
			Successful:    a.summary.Successful,
			Failed:        a.summary.Failed,
			CurrentURL:    r.URL,
			CurrentResult: r,
		})
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, reporting whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
