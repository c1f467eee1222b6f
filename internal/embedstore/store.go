// Package embedstore deduplicates chunk content and embedding compute
// across users. A chunk's identity is (content hash, chunk index); the hash
// covers the source URL plus the chunk text, so identical content archived
// by different users maps to one stored row and at most one embedding
// provider call.
package embedstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pagevault/pagevault/internal/chunker"
	"github.com/pagevault/pagevault/internal/embedding"
	"github.com/pagevault/pagevault/internal/storage"
)

// BackfillJobType is the queue type for re-embedding vector-less chunks.
const BackfillJobType = "embed_backfill"

// BackfillPayload is the JSON payload of a backfill job.
type BackfillPayload struct {
	ChunkID string `json:"chunk_id"`
}

// ChunkStore is the subset of storage the embed store needs.
type ChunkStore interface {
	GetChunkByIdentity(contentHash string, chunkIndex int) (storage.ContentChunk, error)
	GetOrCreateChunk(c storage.ContentChunk) (storage.ContentChunk, bool, error)
	UpsertLink(l storage.UserContentLink) error
	EnqueueJob(job storage.Job) error
}

// Store routes chunks through lookup, embedding, creation, and user linking.
type Store struct {
	db       ChunkStore
	provider embedding.Provider
	logger   *slog.Logger
}

// New creates a Store over the given chunk storage and embedding provider.
func New(db ChunkStore, provider embedding.Provider) *Store {
	return &Store{
		db:       db,
		provider: provider,
		logger:   slog.Default(),
	}
}

// Request identifies one chunk of one user's archive.
type Request struct {
	UserID    string
	ArchiveID string
	SourceURL string
	Tags      string // JSON array stored as text
	Chunk     chunker.Chunk
}

// ContentHash digests (source URL, chunk text) into the chunk's
// content-addressable identity. Stable across calls; differs whenever the
// text differs for the same URL.
func ContentHash(sourceURL, text string) string {
	sum := sha256.Sum256([]byte(sourceURL + text))
	return hex.EncodeToString(sum[:])
}

// EnsureEmbedded guarantees a ContentChunk row exists for the request's
// chunk and that the caller's user/archive is linked to it, then returns
// the content ID.
//
// The embedding provider is consulted only on a store miss; a hit reuses
// the existing row and its vector.
// Provider failure is soft: the chunk is stored vector-less and a backfill
// job is queued. Only store failures surface to the caller.
func (s *Store) EnsureEmbedded(ctx context.Context, req Request) (string, error) {
	hash := ContentHash(req.SourceURL, req.Chunk.Content)

	row, err := s.db.GetChunkByIdentity(hash, req.Chunk.Index)
	switch {
	case err == nil:
		// Existing chunk, embedding already requested by an earlier caller.
	case errors.Is(err, storage.ErrNotFound):
		row, err = s.createChunk(ctx, hash, req)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("looking up chunk %s[%d]: %w", hash, req.Chunk.Index, err)
	}

	link := storage.UserContentLink{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		ContentID: row.ID,
		ArchiveID: req.ArchiveID,
		Tags:      req.Tags,
	}
	if err := s.db.UpsertLink(link); err != nil {
		return "", fmt.Errorf("linking chunk %s to archive %s: %w", row.ID, req.ArchiveID, err)
	}

	return row.ID, nil
}

// createChunk embeds (best-effort) and get-or-creates the chunk row. When a
// concurrent creator wins the insert race, the winner's row is adopted.
func (s *Store) createChunk(ctx context.Context, hash string, req Request) (storage.ContentChunk, error) {
	vec, embErr := s.provider.Embed(ctx, req.Chunk.Content)
	if embErr != nil {
		s.logger.Warn("embedding unavailable, storing chunk lexical-only",
			"url", req.SourceURL, "chunk", req.Chunk.Index, "error", embErr)
		vec = nil
	}

	row, created, err := s.db.GetOrCreateChunk(storage.ContentChunk{
		ID:          uuid.New().String(),
		ContentHash: hash,
		ChunkIndex:  req.Chunk.Index,
		Text:        req.Chunk.Content,
		Embedding:   vec,
	})
	if err != nil {
		return storage.ContentChunk{}, fmt.Errorf("creating chunk %s[%d]: %w", hash, req.Chunk.Index, err)
	}

	if created && len(row.Embedding) == 0 {
		s.enqueueBackfill(row.ID)
	}
	return row, nil
}

// enqueueBackfill schedules a supervised retry of the embedding call for a
// chunk stored without a vector. Failure to enqueue is itself soft: the
// chunk simply stays lexical-only.
func (s *Store) enqueueBackfill(chunkID string) {
	payload, err := json.Marshal(BackfillPayload{ChunkID: chunkID})
	if err != nil {
		s.logger.Error("marshalling backfill payload", "chunk_id", chunkID, "error", err)
		return
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        BackfillJobType,
		PayloadJSON: string(payload),
		MaxAttempts: 5,
	}
	if err := s.db.EnqueueJob(job); err != nil {
		s.logger.Warn("enqueueing embed backfill", "chunk_id", chunkID, "error", err)
	}
}
