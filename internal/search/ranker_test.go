package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pagevault/pagevault/internal/retrieval"
	"github.com/pagevault/pagevault/internal/storage"
)

type fakeSource struct {
	hits  []retrieval.Hit
	err   error
	calls int
}

func (f *fakeSource) Query(context.Context, string, string, int) ([]retrieval.Hit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeArchives map[string]storage.Archive

func (f fakeArchives) GetArchive(id string) (storage.Archive, error) {
	a, ok := f[id]
	if !ok {
		return storage.Archive{}, storage.ErrNotFound
	}
	return a, nil
}

func TestSearch_GroupsByArchive(t *testing.T) {
	source := &fakeSource{hits: []retrieval.Hit{
		{ArchiveID: "a1", ContentID: "c1", Excerpt: "first chunk about caching", Score: 0.9, MatchType: retrieval.MatchSemantic},
		{ArchiveID: "a2", ContentID: "c3", Excerpt: "another archive", Score: 0.4, MatchType: retrieval.MatchLexical},
		{ArchiveID: "a1", ContentID: "c2", Excerpt: "second chunk about caching", Score: 0.7, MatchType: retrieval.MatchSemantic},
	}}
	archives := fakeArchives{
		"a1": {ID: "a1", URL: "https://example.com/1", Title: "Caching", Text: "caching body", Tags: `["infra","go"]`},
		"a2": {ID: "a2", URL: "https://example.com/2", Title: "Other", Text: "other body"},
	}

	groups, err := NewRanker(source, archives, 0).Search(context.Background(), "caching", "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	g := groups[0]
	if g.ArchiveID != "a1" || g.Title != "Caching" || g.URL != "https://example.com/1" {
		t.Errorf("first group = %+v", g)
	}
	if g.Relevance != 0.9 {
		t.Errorf("relevance = %v, want max hit score 0.9", g.Relevance)
	}
	if len(g.MatchingChunks) != 2 {
		t.Errorf("matching chunks = %d, want 2", len(g.MatchingChunks))
	}
	if len(g.Tags) != 2 || g.Tags[0] != "infra" {
		t.Errorf("tags = %v", g.Tags)
	}
}

func TestSearch_OrderIsStableOnTies(t *testing.T) {
	source := &fakeSource{hits: []retrieval.Hit{
		{ArchiveID: "a1", ContentID: "c1", Excerpt: "x", Score: 0.5},
		{ArchiveID: "a2", ContentID: "c2", Excerpt: "x", Score: 0.9},
		{ArchiveID: "a3", ContentID: "c3", Excerpt: "x", Score: 0.5},
	}}
	archives := fakeArchives{
		"a1": {ID: "a1", Text: "x"}, "a2": {ID: "a2", Text: "x"}, "a3": {ID: "a3", Text: "x"},
	}

	groups, err := NewRanker(source, archives, 0).Search(context.Background(), "x", "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	got := []string{groups[0].ArchiveID, groups[1].ArchiveID, groups[2].ArchiveID}
	want := []string{"a2", "a1", "a3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v (ties keep arrival order)", got, want)
		}
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	archives := fakeArchives{}
	var hits []retrieval.Hit
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		hits = append(hits, retrieval.Hit{ArchiveID: id, ContentID: "c-" + id, Excerpt: "x", Score: 0.5})
		archives[id] = storage.Archive{ID: id, Text: "x"}
	}

	groups, err := NewRanker(&fakeSource{hits: hits}, archives, 0).Search(context.Background(), "x", "u1", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("groups = %d, want limit 2", len(groups))
	}
}

func TestSearch_BackfillsArchiveLevelHits(t *testing.T) {
	// Archive-level lexical hits carry no excerpt; the snippet comes from
	// the archive body instead.
	source := &fakeSource{hits: []retrieval.Hit{
		{ArchiveID: "a1", Score: 0.5, MatchType: retrieval.MatchLexical},
	}}
	archives := fakeArchives{
		"a1": {ID: "a1", Title: "Volcano survey", Text: "A long survey of active volcanoes worldwide."},
	}

	groups, err := NewRanker(source, archives, 0).Search(context.Background(), "volcanoes", "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	if !strings.Contains(groups[0].Snippet, "**volcanoes**") {
		t.Errorf("snippet = %q, want highlighted term from archive body", groups[0].Snippet)
	}
	if len(groups[0].MatchingChunks) != 0 {
		t.Errorf("matching chunks = %v, want none for archive-level hit", groups[0].MatchingChunks)
	}
}

func TestSearch_SnippetHighlightsQueryTerms(t *testing.T) {
	source := &fakeSource{hits: []retrieval.Hit{
		{ArchiveID: "a1", ContentID: "c1", Excerpt: "Gemini embeddings ship in v2.", Score: 0.8},
	}}
	archives := fakeArchives{
		"a1": {ID: "a1", Title: "Release notes", Text: "The gemini model now produces embeddings natively."},
	}

	groups, err := NewRanker(source, archives, 0).Search(context.Background(), "gemini embeddings", "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	snippet := groups[0].Snippet
	if !strings.Contains(snippet, "**gemini**") || !strings.Contains(snippet, "**embeddings**") {
		t.Errorf("snippet = %q, want both terms emphasized", snippet)
	}
	if !strings.Contains(groups[0].MatchingChunks[0], "**Gemini**") {
		t.Errorf("chunk = %q, want original case kept inside markers", groups[0].MatchingChunks[0])
	}
}

func TestSearch_DropsGroupsWithMissingArchive(t *testing.T) {
	source := &fakeSource{hits: []retrieval.Hit{
		{ArchiveID: "gone", ContentID: "c1", Excerpt: "x", Score: 0.9},
		{ArchiveID: "a1", ContentID: "c2", Excerpt: "x", Score: 0.5},
	}}
	archives := fakeArchives{"a1": {ID: "a1", Text: "x"}}

	groups, err := NewRanker(source, archives, 0).Search(context.Background(), "x", "u1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(groups) != 1 || groups[0].ArchiveID != "a1" {
		t.Errorf("groups = %+v, want only the loadable archive", groups)
	}
}

func TestSearch_CachesRepeatedQueries(t *testing.T) {
	source := &fakeSource{hits: []retrieval.Hit{
		{ArchiveID: "a1", ContentID: "c1", Excerpt: "x", Score: 0.5},
	}}
	r := NewRanker(source, fakeArchives{"a1": {ID: "a1", Text: "x"}}, 0)

	for i := 0; i < 3; i++ {
		if _, err := r.Search(context.Background(), "repeat", "u1", 5); err != nil {
			t.Fatalf("Search %d: %v", i, err)
		}
	}
	if source.calls != 1 {
		t.Errorf("source queried %d times, want 1 (cache hit)", source.calls)
	}

	// A different limit is a different cache key.
	if _, err := r.Search(context.Background(), "repeat", "u1", 7); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("source queried %d times, want 2", source.calls)
	}
}

func TestSearch_SourceErrorPropagates(t *testing.T) {
	source := &fakeSource{err: errors.New("store down")}
	_, err := NewRanker(source, fakeArchives{}, 0).Search(context.Background(), "x", "u1", 5)
	if err == nil {
		t.Fatal("expected error from failing source")
	}
}
