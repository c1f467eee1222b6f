package importer

import (
	"context"
	"log/slog"
)

// dedupBatchSize caps how many URLs go into one existence query, keeping
// each statement within backend parameter limits.
const dedupBatchSize = 100

// ExistenceStore answers batched "which of these URLs does the user already
// have" queries.
type ExistenceStore interface {
	ExistingURLs(ctx context.Context, userID string, urls []string) ([]string, error)
}

// Detector partitions a candidate item set into new vs already-archived.
type Detector struct {
	store     ExistenceStore
	batchSize int
	logger    *slog.Logger
}

// NewDetector creates a Detector querying the given store.
func NewDetector(store ExistenceStore) *Detector {
	return &Detector{
		store:     store,
		batchSize: dedupBatchSize,
		logger:    slog.Default(),
	}
}

// Partition splits items into (new, duplicate) for the user. The split is
// exhaustive and disjoint: every input item lands in exactly one output.
// Existence queries run in bounded batches; a failed batch is treated as
// containing no duplicates (fail-open) so a transient store error degrades
// to possible re-archiving instead of blocking the whole import.
func (d *Detector) Partition(ctx context.Context, items []Item, userID string) (fresh, duplicate []Item) {
	existing := make(map[string]bool)

	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL
	}

	for start := 0; start < len(urls); start += d.batchSize {
		end := start + d.batchSize
		if end > len(urls) {
			end = len(urls)
		}
		found, err := d.store.ExistingURLs(ctx, userID, urls[start:end])
		if err != nil {
			d.logger.Warn("duplicate check batch failed, assuming no duplicates",
				"user_id", userID, "batch_start", start, "error", err)
			continue
		}
		for _, u := range found {
			existing[u] = true
		}
	}

	for _, item := range items {
		if existing[item.URL] {
			duplicate = append(duplicate, item)
		} else {
			fresh = append(fresh, item)
		}
	}
	return fresh, duplicate
}
