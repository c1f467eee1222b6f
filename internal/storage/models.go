package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. creating a second archive for the same (user, url) pair.
var ErrDuplicate = errors.New("duplicate record")

// Archive is one user's captured copy of a URL's content plus metadata.
// At most one archive exists per (UserID, URL).
type Archive struct {
	ID               string
	UserID           string
	URL              string
	Title            string
	Description      string
	Text             string
	Markdown         string
	Tags             string // JSON array stored as text
	WordCount        int
	ReadingTime      int // minutes
	ExtractionMethod string
	CreatedAt        time.Time
}

// ContentChunk is a content-addressed segment of archived text, shared
// across every user who archives matching content. Identity is
// (ContentHash, ChunkIndex). Embedding is nil for chunks the provider
// could not vectorize; those stay lexical-only until backfilled.
type ContentChunk struct {
	ID          string
	ContentHash string
	ChunkIndex  int
	Text        string
	Embedding   []float32
	CreatedAt   time.Time
}

// UserContentLink joins a user's archive to a shared content chunk.
// The (UserID, ContentID, ArchiveID) triple is the idempotent upsert key.
type UserContentLink struct {
	ID        string
	UserID    string
	ContentID string
	ArchiveID string
	Tags      string // JSON array stored as text
	CreatedAt time.Time
}

// Job is one entry in the background work queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
