package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pagevault/pagevault/internal/embedstore"
	"github.com/pagevault/pagevault/internal/storage"
)

type mockProvider struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedBackfill stores a vector-less chunk and enqueues its backfill job,
// mirroring what the chunk store does when the provider is down.
func seedBackfill(t *testing.T, s *storage.Store, chunkID, text string) {
	t.Helper()
	_, _, err := s.GetOrCreateChunk(storage.ContentChunk{
		ID:          chunkID,
		ContentHash: "hash-" + chunkID,
		ChunkIndex:  0,
		Text:        text,
	})
	if err != nil {
		t.Fatalf("GetOrCreateChunk: %v", err)
	}
	err = s.EnqueueJob(storage.Job{
		ID:          "job-" + chunkID,
		Type:        embedstore.BackfillJobType,
		PayloadJSON: fmt.Sprintf(`{"chunk_id":%q}`, chunkID),
	})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func resetRunAfter(t *testing.T, s *storage.Store, jobID string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	if _, err := s.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, past, jobID); err != nil {
		t.Fatalf("resetting run_after: %v", err)
	}
}

func jobStatus(t *testing.T, s *storage.Store, jobID string) (status string, attempts int) {
	t.Helper()
	err := s.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts)
	if err != nil {
		t.Fatalf("querying job %s: %v", jobID, err)
	}
	return status, attempts
}

func TestRunOnce_EmbedsChunk(t *testing.T) {
	store := openTestStore(t)
	seedBackfill(t, store, "c1", "some chunk text")

	w := NewWorker(store, &mockProvider{}, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce claimed nothing")
	}

	chunk, err := store.GetChunk("c1")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if len(chunk.Embedding) != 3 {
		t.Errorf("embedding = %v, want the provider's vector", chunk.Embedding)
	}
	if status, _ := jobStatus(t, store, "job-c1"); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestRunOnce_NoJobIsIdle(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockProvider{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if didWork {
		t.Error("RunOnce reported work on an empty queue")
	}
}

func TestRunOnce_AlreadyEmbeddedCompletesWithoutProvider(t *testing.T) {
	store := openTestStore(t)
	seedBackfill(t, store, "c1", "text")
	if err := store.UpdateChunkEmbedding("c1", []float32{1, 2}); err != nil {
		t.Fatalf("UpdateChunkEmbedding: %v", err)
	}

	var calls atomic.Int32
	w := NewWorker(store, &mockProvider{
		embedFn: func(context.Context, string) ([]float32, error) {
			calls.Add(1)
			return nil, errors.New("should not be called")
		},
	}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls.Load() != 0 {
		t.Error("provider called for an already-embedded chunk")
	}
	if status, _ := jobStatus(t, store, "job-c1"); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestRunOnce_RetriesWithBackoffThenSucceeds(t *testing.T) {
	store := openTestStore(t)
	seedBackfill(t, store, "c1", "retry text")

	var calls atomic.Int32
	w := NewWorker(store, &mockProvider{
		embedFn: func(context.Context, string) ([]float32, error) {
			if calls.Add(1) <= 2 {
				return nil, fmt.Errorf("transient error %d", calls.Load())
			}
			return []float32{0.5}, nil
		},
	}, 0)

	ctx := context.Background()
	for attempt := 1; attempt <= 2; attempt++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d: %v", attempt, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d claimed nothing", attempt)
		}
		status, attempts := jobStatus(t, store, "job-c1")
		if status != "pending" || attempts != attempt {
			t.Errorf("after failure %d: status=%q attempts=%d", attempt, status, attempts)
		}
		resetRunAfter(t, store, "job-c1")
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("final RunOnce: %v", err)
	}
	if status, _ := jobStatus(t, store, "job-c1"); status != "completed" {
		t.Errorf("job status = %q, want completed after recovery", status)
	}
	chunk, err := store.GetChunk("c1")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if len(chunk.Embedding) == 0 {
		t.Error("chunk still has no embedding")
	}
}

func TestRunOnce_ExhaustedJobMarkedFailed(t *testing.T) {
	store := openTestStore(t)
	seedBackfill(t, store, "c1", "text")
	if _, err := store.DB().Exec(`UPDATE jobs SET max_attempts = 1 WHERE id = 'job-c1'`); err != nil {
		t.Fatalf("lowering max_attempts: %v", err)
	}

	w := NewWorker(store, &mockProvider{
		embedFn: func(context.Context, string) ([]float32, error) {
			return nil, errors.New("provider down")
		},
	}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if status, _ := jobStatus(t, store, "job-c1"); status != "failed" {
		t.Errorf("job status = %q, want failed after exhausting attempts", status)
	}
}

func TestRunOnce_MalformedPayloadFailsJob(t *testing.T) {
	store := openTestStore(t)
	err := store.EnqueueJob(storage.Job{
		ID:          "job-bad",
		Type:        embedstore.BackfillJobType,
		PayloadJSON: "{not json",
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, &mockProvider{}, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce claimed nothing")
	}
	if status, _ := jobStatus(t, store, "job-bad"); status != "failed" {
		t.Errorf("job status = %q, want failed", status)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockProvider{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
