// Package retrieval issues the combined lexical+semantic query behind
// hybrid search. The semantic leg runs brute-force cosine similarity over
// the user's linked chunk embeddings; the lexical leg matches query terms
// against archives and chunk text. When no query embedding is available the
// semantic leg is skipped and results degrade to lexical-only rather than
// failing.
package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pagevault/pagevault/internal/embedding"
	"github.com/pagevault/pagevault/internal/storage"
)

// MatchType tags how a hit was found.
type MatchType string

const (
	MatchLexical  MatchType = "lexical"
	MatchSemantic MatchType = "semantic"
)

// Hit is one raw result from the combined query. Archive-level lexical hits
// carry an empty ContentID and Excerpt; the ranker back-fills them from the
// archive row.
type Hit struct {
	ArchiveID string
	ContentID string
	Excerpt   string
	Score     float32
	MatchType MatchType
}

// Searcher runs hybrid queries against the store.
type Searcher struct {
	db       *sql.DB
	provider embedding.Provider
	logger   *slog.Logger
}

// NewSearcher creates a Searcher over the store's database handle and the
// embedding provider used for query vectors.
func NewSearcher(db *sql.DB, provider embedding.Provider) *Searcher {
	return &Searcher{
		db:       db,
		provider: provider,
		logger:   slog.Default(),
	}
}

// Query returns up to topK semantic hits plus the lexical matches for the
// user. A chunk found by both legs keeps its higher score. Hit order is
// semantic-similarity first, then lexical; the ranker re-sorts groups.
func (s *Searcher) Query(ctx context.Context, query, userID string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 20
	}

	var hits []Hit
	byContent := make(map[string]int) // content id -> index into hits

	semantic, err := s.semanticLeg(ctx, query, userID, topK)
	if err != nil {
		return nil, err
	}
	for _, h := range semantic {
		byContent[h.ContentID] = len(hits)
		hits = append(hits, h)
	}

	lexChunks, lexArchives, err := s.lexicalLeg(ctx, query, userID, topK)
	if err != nil {
		return nil, err
	}
	for _, h := range lexChunks {
		if i, ok := byContent[h.ContentID]; ok {
			if h.Score > hits[i].Score {
				hits[i].Score = h.Score
			}
			continue
		}
		byContent[h.ContentID] = len(hits)
		hits = append(hits, h)
	}
	hits = append(hits, lexArchives...)

	return hits, nil
}

// semanticLeg embeds the query and scans the user's chunk vectors for the
// top-K cosine matches. Provider unavailability degrades to no semantic
// hits.
func (s *Searcher) semanticLeg(ctx context.Context, query, userID string, topK int) ([]Hit, error) {
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding unavailable, lexical-only search", "error", err)
		return nil, nil
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, l.archive_id, c.embedding
		FROM content_chunks c
		JOIN user_content_links l ON l.content_id = c.id
		WHERE l.user_id = ? AND c.embedding IS NOT NULL AND length(c.embedding) > 0`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("scanning chunk vectors: %w", err)
	}
	defer rows.Close()

	h := &scoredHeap{}
	heap.Init(h)

	// Reusable buffer avoids per-row allocations during the scan.
	var buf []float32

	for rows.Next() {
		var contentID, archiveID string
		var blob []byte
		if err := rows.Scan(&contentID, &archiveID, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = storage.DecodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", contentID, err)
		}

		score := cosine(vec, buf, queryNorm)
		entry := scoredRef{ContentID: contentID, ArchiveID: archiveID, Score: score}
		if h.Len() < topK {
			heap.Push(h, entry)
		} else if score > (*h)[0].Score {
			(*h)[0] = entry
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	// Pop ascending, fill descending.
	winners := make([]scoredRef, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(scoredRef)
	}

	texts, err := s.chunkTexts(ctx, winners)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(winners))
	for i, w := range winners {
		hits[i] = Hit{
			ArchiveID: w.ArchiveID,
			ContentID: w.ContentID,
			Excerpt:   texts[w.ContentID],
			Score:     w.Score,
			MatchType: MatchSemantic,
		}
	}
	return hits, nil
}

// chunkTexts fetches the text for the winning chunk IDs in one query.
func (s *Searcher) chunkTexts(ctx context.Context, refs []scoredRef) (map[string]string, error) {
	args := make([]any, len(refs))
	for i, r := range refs {
		args[i] = r.ContentID
	}
	query := `SELECT id, text FROM content_chunks WHERE id IN (?` +
		strings.Repeat(",?", len(refs)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk texts: %w", err)
	}
	defer rows.Close()

	texts := make(map[string]string, len(refs))
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		texts[id] = text
	}
	return texts, rows.Err()
}

// lexicalLeg matches query terms (longer than 2 characters) against the
// user's chunk text and archive metadata. Scores are the fraction of terms
// matched, putting lexical hits on the same 0..1 scale as cosine scores.
func (s *Searcher) lexicalLeg(ctx context.Context, query, userID string, topK int) (chunkHits, archiveHits []Hit, err error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil, nil
	}

	chunkHits, err = s.lexicalChunks(ctx, terms, userID, topK)
	if err != nil {
		return nil, nil, err
	}
	archiveHits, err = s.lexicalArchives(ctx, terms, userID, topK)
	if err != nil {
		return nil, nil, err
	}
	return chunkHits, archiveHits, nil
}

func (s *Searcher) lexicalChunks(ctx context.Context, terms []string, userID string, topK int) ([]Hit, error) {
	conds := make([]string, len(terms))
	args := []any{userID}
	for i, t := range terms {
		conds[i] = "c.text LIKE ? ESCAPE '\\'"
		args = append(args, likePattern(t))
	}
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, l.archive_id, c.text
		FROM content_chunks c
		JOIN user_content_links l ON l.content_id = c.id
		WHERE l.user_id = ? AND (`+strings.Join(conds, " OR ")+`)
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lexical chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var contentID, archiveID, text string
		if err := rows.Scan(&contentID, &archiveID, &text); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			ArchiveID: archiveID,
			ContentID: contentID,
			Excerpt:   text,
			Score:     termScore(text, terms),
			MatchType: MatchLexical,
		})
	}
	return hits, rows.Err()
}

func (s *Searcher) lexicalArchives(ctx context.Context, terms []string, userID string, topK int) ([]Hit, error) {
	conds := make([]string, 0, len(terms)*3)
	args := []any{userID}
	for _, t := range terms {
		p := likePattern(t)
		conds = append(conds,
			"title LIKE ? ESCAPE '\\'",
			"description LIKE ? ESCAPE '\\'",
			"text LIKE ? ESCAPE '\\'")
		args = append(args, p, p, p)
	}
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title || ' ' || description || ' ' || text
		FROM archives
		WHERE user_id = ? AND (`+strings.Join(conds, " OR ")+`)
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lexical archives: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var archiveID, haystack string
		if err := rows.Scan(&archiveID, &haystack); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			ArchiveID: archiveID,
			Score:     termScore(haystack, terms),
			MatchType: MatchLexical,
		})
	}
	return hits, rows.Err()
}

// searchTerms splits a query into lowercase terms longer than 2 characters.
func searchTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// termScore is the fraction of distinct terms present in the text.
func termScore(text string, terms []string) float32 {
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

// likePattern wraps a term for substring LIKE matching, escaping LIKE
// metacharacters in the term itself.
func likePattern(term string) string {
	term = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	return "%" + term + "%"
}

// scoredRef identifies one chunk-in-archive candidate during the scan.
type scoredRef struct {
	ContentID string
	ArchiveID string
	Score     float32
}

// scoredHeap is a min-heap by score, keeping the current top-K.
type scoredHeap []scoredRef

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)         { *h = append(*h, x.(scoredRef)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (|a| * |b|) with |a| precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
