// Package backfill runs the supervised worker that re-embeds chunks stored
// without a vector. When the embedding provider is down at import time the
// chunk is persisted anyway and an embed_backfill job is queued; this worker
// drains that queue, so every vector-less chunk eventually becomes
// searchable semantically.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagevault/pagevault/internal/embedding"
	"github.com/pagevault/pagevault/internal/embedstore"
	"github.com/pagevault/pagevault/internal/storage"
)

// JobStore abstracts the queue and chunk operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetChunk(id string) (storage.ContentChunk, error)
	UpdateChunkEmbedding(id string, embedding []float32) error
}

// Worker processes embed_backfill jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	provider embedding.Provider
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 1s.
func NewWorker(store JobStore, provider embedding.Provider, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		store:    store,
		provider: provider,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("backfill iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single backfill job. Returns true if a job
// was claimed, regardless of whether it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{embedstore.BackfillJobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("backfill job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedstore.BackfillPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	chunk, err := w.store.GetChunk(payload.ChunkID)
	if err != nil {
		return fmt.Errorf("loading chunk %s: %w", payload.ChunkID, err)
	}
	if len(chunk.Embedding) > 0 {
		// Already embedded, nothing to do. Happens when the provider
		// recovered between enqueue and claim.
		return nil
	}

	vec, err := w.provider.Embed(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embedding chunk %s: %w", chunk.ID, err)
	}

	if err := w.store.UpdateChunkEmbedding(chunk.ID, vec); err != nil {
		return fmt.Errorf("storing embedding for chunk %s: %w", chunk.ID, err)
	}

	w.logger.Debug("chunk backfilled", "chunk_id", chunk.ID, "dimensions", len(vec))
	return nil
}
