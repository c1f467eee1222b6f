package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testArchive(id, userID, url string) Archive {
	return Archive{
		ID:          id,
		UserID:      userID,
		URL:         url,
		Title:       "Title for " + url,
		Description: "desc",
		Text:        "body text",
		Tags:        `["test"]`,
		WordCount:   2,
		ReadingTime: 1,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCreateArchive_DuplicateURL(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateArchive(testArchive("a1", "u1", "https://example.com/x")); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	err := s.CreateArchive(testArchive("a2", "u1", "https://example.com/x"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second create: got %v, want ErrDuplicate", err)
	}

	// Same URL for a different user is fine.
	if err := s.CreateArchive(testArchive("a3", "u2", "https://example.com/x")); err != nil {
		t.Fatalf("create for other user: %v", err)
	}
}

func TestGetArchiveByURL(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateArchive(testArchive("a1", "u1", "https://example.com/a")); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	a, err := s.GetArchiveByURL("u1", "https://example.com/a")
	if err != nil {
		t.Fatalf("GetArchiveByURL: %v", err)
	}
	if a.ID != "a1" || a.Title == "" {
		t.Errorf("unexpected archive: %+v", a)
	}

	if _, err := s.GetArchiveByURL("u1", "https://example.com/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing url: got %v, want ErrNotFound", err)
	}
}

func TestExistingURLs(t *testing.T) {
	s := openTestStore(t)
	for i, url := range []string{"https://a.com", "https://b.com"} {
		a := testArchive(string(rune('x'+i)), "u1", url)
		if err := s.CreateArchive(a); err != nil {
			t.Fatalf("CreateArchive: %v", err)
		}
	}

	got, err := s.ExistingURLs(context.Background(), "u1",
		[]string{"https://a.com", "https://b.com", "https://c.com"})
	if err != nil {
		t.Fatalf("ExistingURLs: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want 2 urls", got)
	}

	// Another user sees none of them.
	got, err = s.ExistingURLs(context.Background(), "u2", []string{"https://a.com"})
	if err != nil {
		t.Fatalf("ExistingURLs for u2: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("u2 got %v, want none", got)
	}

	if got, err := s.ExistingURLs(context.Background(), "u1", nil); err != nil || got != nil {
		t.Errorf("empty input: got %v, %v", got, err)
	}
}

func TestGetOrCreateChunk(t *testing.T) {
	s := openTestStore(t)

	c := ContentChunk{
		ID:          "c1",
		ContentHash: "hash-1",
		ChunkIndex:  0,
		Text:        "chunk text",
		Embedding:   []float32{0.1, 0.2, 0.3},
	}
	row, created, err := s.GetOrCreateChunk(c)
	if err != nil {
		t.Fatalf("GetOrCreateChunk: %v", err)
	}
	if !created || row.ID != "c1" {
		t.Fatalf("first call: created=%v id=%s", created, row.ID)
	}

	// Second caller with the same identity adopts the existing row.
	second := c
	second.ID = "c2"
	row, created, err = s.GetOrCreateChunk(second)
	if err != nil {
		t.Fatalf("second GetOrCreateChunk: %v", err)
	}
	if created {
		t.Error("second call reported created=true")
	}
	if row.ID != "c1" {
		t.Errorf("second call returned id %s, want c1", row.ID)
	}
	if len(row.Embedding) != 3 {
		t.Errorf("embedding round-trip: got %v", row.Embedding)
	}
}

func TestUpdateChunkEmbedding(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.GetOrCreateChunk(ContentChunk{ID: "c1", ContentHash: "h", ChunkIndex: 0, Text: "t"})
	if err != nil {
		t.Fatalf("GetOrCreateChunk: %v", err)
	}

	if err := s.UpdateChunkEmbedding("c1", []float32{1, 2}); err != nil {
		t.Fatalf("UpdateChunkEmbedding: %v", err)
	}
	c, err := s.GetChunk("c1")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if len(c.Embedding) != 2 || c.Embedding[0] != 1 {
		t.Errorf("embedding after update: %v", c.Embedding)
	}

	if err := s.UpdateChunkEmbedding("missing", []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing chunk: got %v, want ErrNotFound", err)
	}
}

func TestUpsertLink_Idempotent(t *testing.T) {
	s := openTestStore(t)

	l := UserContentLink{ID: "l1", UserID: "u1", ContentID: "c1", ArchiveID: "a1", Tags: `["t"]`}
	if err := s.UpsertLink(l); err != nil {
		t.Fatalf("UpsertLink: %v", err)
	}
	// Conflict on the composite key is a no-op, not an error.
	l.ID = "l2"
	if err := s.UpsertLink(l); err != nil {
		t.Fatalf("second UpsertLink: %v", err)
	}

	n, err := s.CountLinksForArchive("u1", "a1")
	if err != nil {
		t.Fatalf("CountLinksForArchive: %v", err)
	}
	if n != 1 {
		t.Errorf("link count = %d, want 1", n)
	}
}

func TestDeleteArchive_RemovesLinks(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateArchive(testArchive("a1", "u1", "https://example.com")); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	if err := s.UpsertLink(UserContentLink{ID: "l1", UserID: "u1", ContentID: "c1", ArchiveID: "a1"}); err != nil {
		t.Fatalf("UpsertLink: %v", err)
	}

	if err := s.DeleteArchive("u1", "a1"); err != nil {
		t.Fatalf("DeleteArchive: %v", err)
	}
	if _, err := s.GetArchive("a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("archive still present: %v", err)
	}
	n, _ := s.CountLinksForArchive("u1", "a1")
	if n != 0 {
		t.Errorf("links remain after delete: %d", n)
	}

	if err := s.DeleteArchive("u1", "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestJobQueue_ClaimCompleteFail(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "embed_backfill", PayloadJSON: `{"chunk_id":"c1"}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	j, err := s.ClaimNextJob([]string{"embed_backfill"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil || j.ID != "j1" || j.Status != "running" {
		t.Fatalf("claimed job: %+v", j)
	}

	// No second claim while running.
	if j2, _ := s.ClaimNextJob([]string{"embed_backfill"}); j2 != nil {
		t.Fatalf("claimed running job again: %+v", j2)
	}

	if err := s.FailJob("j1", "provider down"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	// First failure reschedules with backoff; it is pending but not yet due.
	if j2, _ := s.ClaimNextJob([]string{"embed_backfill"}); j2 != nil {
		t.Fatalf("claimed backed-off job: %+v", j2)
	}

	// Second failure exhausts max_attempts.
	if err := s.FailJob("j1", "provider still down"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	n, err := s.CountJobs("failed")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("failed jobs = %d, want 1", n)
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("round trip mismatch at %d: %v vs %v", i, in[i], out[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
