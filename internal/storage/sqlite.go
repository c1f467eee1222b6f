// Package storage persists archives, shared content chunks, user/content
// links, and the background job queue in a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for archives, content chunks,
// user/content links, and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "pagevault.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for collaborators that run
// their own queries (retrieval) and for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness constraint
// failure. The modernc driver exposes this only via the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Archives ---

// CreateArchive inserts a new archive. Returns ErrDuplicate when an archive
// for the same (user, url) already exists; the UNIQUE constraint is the real
// backstop behind the importer's best-effort existence checks.
func (s *Store) CreateArchive(a Archive) error {
	tags := a.Tags
	if tags == "" {
		tags = "[]"
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO archives (id, user_id, url, title, description, text, markdown, tags, word_count, reading_time, extraction_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.URL, a.Title, a.Description, a.Text, a.Markdown, tags,
		a.WordCount, a.ReadingTime, a.ExtractionMethod, createdAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const archiveColumns = `id, user_id, url, title, description, text, markdown, tags, word_count, reading_time, extraction_method, created_at`

func scanArchive(row interface{ Scan(...any) error }) (Archive, error) {
	var a Archive
	var createdAt string
	err := row.Scan(&a.ID, &a.UserID, &a.URL, &a.Title, &a.Description, &a.Text, &a.Markdown,
		&a.Tags, &a.WordCount, &a.ReadingTime, &a.ExtractionMethod, &createdAt)
	if err != nil {
		return Archive{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Archive{}, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

// GetArchive returns the archive with the given ID.
func (s *Store) GetArchive(id string) (Archive, error) {
	row := s.db.QueryRow(`SELECT `+archiveColumns+` FROM archives WHERE id = ?`, id)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return Archive{}, ErrNotFound
	}
	return a, err
}

// GetArchiveByURL returns the user's archive for the given URL.
func (s *Store) GetArchiveByURL(userID, url string) (Archive, error) {
	row := s.db.QueryRow(`SELECT `+archiveColumns+` FROM archives WHERE user_id = ? AND url = ?`, userID, url)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return Archive{}, ErrNotFound
	}
	return a, err
}

// ExistingURLs returns the subset of urls that the user has already
// archived. The caller is responsible for keeping len(urls) within backend
// query-size limits; the duplicate detector batches for that reason.
func (s *Store) ExistingURLs(ctx context.Context, userID string, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(urls)+1)
	args = append(args, userID)
	for _, u := range urls {
		args = append(args, u)
	}
	query := `SELECT url FROM archives WHERE user_id = ? AND url IN (?` +
		strings.Repeat(",?", len(urls)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying existing urls: %w", err)
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		existing = append(existing, u)
	}
	return existing, rows.Err()
}

// ListArchives returns the user's archives, newest first.
func (s *Store) ListArchives(userID string, limit int) ([]Archive, error) {
	rows, err := s.db.Query(`SELECT `+archiveColumns+` FROM archives
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// CountArchives returns how many archives the user owns.
func (s *Store) CountArchives(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM archives WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// DeleteArchive removes the user's archive and its content links. Shared
// content chunks are left in place for other users.
func (s *Store) DeleteArchive(userID, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM archives WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM user_content_links WHERE archive_id = ? AND user_id = ?`, id, userID); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Content chunks ---

const chunkColumns = `id, content_hash, chunk_index, text, embedding, created_at`

func scanChunk(row interface{ Scan(...any) error }) (ContentChunk, error) {
	var c ContentChunk
	var blob []byte
	var createdAt string
	err := row.Scan(&c.ID, &c.ContentHash, &c.ChunkIndex, &c.Text, &blob, &createdAt)
	if err != nil {
		return ContentChunk{}, err
	}
	if len(blob) > 0 {
		vec, err := DecodeVector(blob)
		if err != nil {
			return ContentChunk{}, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		c.Embedding = vec
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ContentChunk{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// GetOrCreateChunk inserts the chunk if no row exists for its
// (content_hash, chunk_index) identity, then returns the surviving row.
// Race-tolerant: when a concurrent creator wins, the insert is a no-op and
// the winner's row is returned with created == false.
func (s *Store) GetOrCreateChunk(c ContentChunk) (ContentChunk, bool, error) {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var blob []byte
	if len(c.Embedding) > 0 {
		blob = EncodeVector(c.Embedding)
	}

	res, err := s.db.Exec(`
		INSERT INTO content_chunks (id, content_hash, chunk_index, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash, chunk_index) DO NOTHING`,
		c.ID, c.ContentHash, c.ChunkIndex, c.Text, blob, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return ContentChunk{}, false, fmt.Errorf("inserting content chunk: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return ContentChunk{}, false, err
	}

	row, err := s.GetChunkByIdentity(c.ContentHash, c.ChunkIndex)
	if err != nil {
		return ContentChunk{}, false, err
	}
	return row, inserted == 1, nil
}

// GetChunk returns the chunk with the given ID.
func (s *Store) GetChunk(id string) (ContentChunk, error) {
	row := s.db.QueryRow(`SELECT `+chunkColumns+` FROM content_chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return ContentChunk{}, ErrNotFound
	}
	return c, err
}

// GetChunkByIdentity returns the chunk for a (content_hash, chunk_index) pair.
func (s *Store) GetChunkByIdentity(contentHash string, chunkIndex int) (ContentChunk, error) {
	row := s.db.QueryRow(`SELECT `+chunkColumns+` FROM content_chunks
		WHERE content_hash = ? AND chunk_index = ?`, contentHash, chunkIndex)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return ContentChunk{}, ErrNotFound
	}
	return c, err
}

// UpdateChunkEmbedding stores the embedding vector for an existing chunk.
// Used by the backfill worker for chunks persisted while the provider was
// unavailable.
func (s *Store) UpdateChunkEmbedding(id string, embedding []float32) error {
	res, err := s.db.Exec(`UPDATE content_chunks SET embedding = ? WHERE id = ?`,
		EncodeVector(embedding), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- User content links ---

// UpsertLink records that a user's archive references a content chunk.
// A conflict on the (user_id, content_id, archive_id) key is a no-op, not
// an error, so repeated ingestion of the same document is idempotent.
func (s *Store) UpsertLink(l UserContentLink) error {
	tags := l.Tags
	if tags == "" {
		tags = "[]"
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO user_content_links (id, user_id, content_id, archive_id, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, content_id, archive_id) DO NOTHING`,
		l.ID, l.UserID, l.ContentID, l.ArchiveID, tags, createdAt.Format(time.RFC3339),
	)
	return err
}

// CountLinksForArchive returns how many chunks the user's archive references.
func (s *Store) CountLinksForArchive(userID, archiveID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM user_content_links
		WHERE user_id = ? AND archive_id = ?`, userID, archiveID).Scan(&n)
	return n, err
}
