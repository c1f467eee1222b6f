// Package search turns raw retrieval hits into user-facing result groups:
// one group per archive, with a highlighted snippet, the matching chunk
// excerpts, and a relevance score. Recent results are served from a small
// in-memory cache.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pagevault/pagevault/internal/retrieval"
	"github.com/pagevault/pagevault/internal/storage"
)

const (
	cacheSize       = 256
	defaultCacheTTL = 5 * time.Minute
	defaultLimit    = 10
)

// ResultGroup is all hits for one archive, folded into a single result.
type ResultGroup struct {
	ArchiveID      string   `json:"archive_id"`
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Tags           []string `json:"tags,omitempty"`
	Snippet        string   `json:"snippet"`
	MatchingChunks []string `json:"matching_chunks,omitempty"`
	Relevance      float32  `json:"relevance_score"`
}

// HitSource produces raw hits for a query; satisfied by retrieval.Searcher.
type HitSource interface {
	Query(ctx context.Context, query, userID string, topK int) ([]retrieval.Hit, error)
}

// ArchiveStore supplies the archive rows hits point at.
type ArchiveStore interface {
	GetArchive(id string) (storage.Archive, error)
}

type cacheEntry struct {
	groups    []ResultGroup
	expiresAt time.Time
}

// Ranker groups, scores, and decorates retrieval hits.
type Ranker struct {
	source   HitSource
	archives ArchiveStore
	cache    *lru.Cache[[32]byte, *cacheEntry]
	ttl      time.Duration
	logger   *slog.Logger
}

// NewRanker creates a Ranker caching results for ttl (zero means the
// default).
func NewRanker(source HitSource, archives ArchiveStore, ttl time.Duration) *Ranker {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("creating search cache: %v", err))
	}
	return &Ranker{
		source:   source,
		archives: archives,
		cache:    cache,
		ttl:      ttl,
		logger:   slog.Default(),
	}
}

// Search returns up to limit result groups ordered by relevance. Groups at
// equal relevance keep the order the hits arrived in.
func (r *Ranker) Search(ctx context.Context, query, userID string, limit int) ([]ResultGroup, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	key := cacheKey(userID, query, limit)
	if entry, ok := r.cache.Get(key); ok {
		if time.Now().Before(entry.expiresAt) {
			return entry.groups, nil
		}
		r.cache.Remove(key)
	}

	topK := limit * 4
	if topK < 20 {
		topK = 20
	}
	hits, err := r.source.Query(ctx, query, userID, topK)
	if err != nil {
		return nil, fmt.Errorf("querying hits: %w", err)
	}

	groups := r.buildGroups(hits, queryTerms(query))
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Relevance > groups[j].Relevance
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}

	r.cache.Add(key, &cacheEntry{groups: groups, expiresAt: time.Now().Add(r.ttl)})
	return groups, nil
}

// buildGroups folds hits by archive in first-seen order and back-fills each
// group from its archive row.
func (r *Ranker) buildGroups(hits []retrieval.Hit, terms []string) []ResultGroup {
	byArchive := make(map[string][]retrieval.Hit)
	var order []string
	for _, h := range hits {
		if _, ok := byArchive[h.ArchiveID]; !ok {
			order = append(order, h.ArchiveID)
		}
		byArchive[h.ArchiveID] = append(byArchive[h.ArchiveID], h)
	}

	groups := make([]ResultGroup, 0, len(order))
	for _, archiveID := range order {
		archive, err := r.archives.GetArchive(archiveID)
		if err != nil {
			// Dangling link or transient store error: drop the group
			// rather than return a half-empty result.
			r.logger.Warn("dropping hit group, archive not loadable",
				"archive_id", archiveID, "error", err)
			continue
		}

		g := ResultGroup{
			ArchiveID: archiveID,
			URL:       archive.URL,
			Title:     archive.Title,
			Tags:      decodeTags(archive.Tags),
		}
		for _, h := range byArchive[archiveID] {
			if h.Score > g.Relevance {
				g.Relevance = h.Score
			}
			if h.Excerpt != "" {
				g.MatchingChunks = append(g.MatchingChunks,
					highlight(bestSnippet(h.Excerpt, terms), terms))
			}
		}
		g.Snippet = highlight(bestSnippet(snippetSource(archive), terms), terms)
		groups = append(groups, g)
	}
	return groups
}

// snippetSource prefers the archive body, falling back to the description.
func snippetSource(a storage.Archive) string {
	if strings.TrimSpace(a.Text) != "" {
		return a.Text
	}
	return a.Description
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// queryTerms splits a query into lowercase terms longer than 2 characters,
// mirroring the lexical matching rule.
func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func cacheKey(userID, query string, limit int) [32]byte {
	return sha256.Sum256([]byte(userID + "\x00" + query + "\x00" + strconv.Itoa(limit)))
}
