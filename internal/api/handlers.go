// Package api exposes the archive over HTTP and MCP. Every request is
// scoped to a user via the X-User-ID header, falling back to the configured
// default user, so a single instance can hold several people's archives.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pagevault/pagevault/internal/importer"
	"github.com/pagevault/pagevault/internal/search"
	"github.com/pagevault/pagevault/internal/storage"
)

const maxImportBodySize = 20 << 20 // 20MB; CSV exports run large

// Importer runs a full import for a set of items.
type Importer interface {
	Run(ctx context.Context, items []importer.Item, userID string, opts importer.Options, onProgress importer.ProgressFunc) (*importer.Summary, error)
}

// SearchProvider answers user queries with grouped results.
type SearchProvider interface {
	Search(ctx context.Context, query, userID string, limit int) ([]search.ResultGroup, error)
}

type AppDeps struct {
	Store       *storage.Store
	Importer    Importer
	Search      SearchProvider
	Token       string // empty disables bearer auth
	DefaultUser string
	ImportOpts  importer.Options
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/imports", handleImport(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/archives", handleListArchives(deps))
		r.Get("/archives/{id}", handleGetArchive(deps))
		r.Delete("/archives/{id}", handleDeleteArchive(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := deps.Store.DB().PingContext(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// ImportRequest is the JSON form of an import; the CSV form goes straight
// through the body with Content-Type text/csv.
type ImportRequest struct {
	Items []ImportItem `json:"items"`
}

type ImportItem struct {
	URL       string   `json:"url"`
	Title     string   `json:"title,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	TimeAdded int64    `json:"time_added,omitempty"`
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var items []importer.Item
		contentType := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(contentType, "text/csv"):
			parsed, err := importer.ParseCSV(r.Body)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "parsing csv: %v", err)
				return
			}
			items = parsed
		default:
			var req ImportRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			for _, it := range req.Items {
				item := importer.Item{URL: it.URL, Title: it.Title, Tags: it.Tags}
				if it.TimeAdded > 0 {
					item.TimeAdded = time.Unix(it.TimeAdded, 0).UTC()
				}
				items = append(items, item)
			}
		}

		summary, err := deps.Importer.Run(r.Context(), items, requestUser(r, deps), deps.ImportOpts, nil)
		var verr *importer.ValidationError
		if errors.As(err, &verr) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", verr)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)

		groups, err := deps.Search.Search(r.Context(), query, requestUser(r, deps), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if groups == nil {
			groups = []search.ResultGroup{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"query":   query,
			"results": groups,
		})
	}
}

// archiveView is the JSON shape of an archive; the full text is omitted
// from listings and included on single fetches.
type archiveView struct {
	ID               string   `json:"id"`
	URL              string   `json:"url"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Text             string   `json:"text,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	WordCount        int      `json:"word_count"`
	ReadingTime      int      `json:"reading_time"`
	ExtractionMethod string   `json:"extraction_method,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

func toView(a storage.Archive, includeText bool) archiveView {
	v := archiveView{
		ID:               a.ID,
		URL:              a.URL,
		Title:            a.Title,
		Description:      a.Description,
		WordCount:        a.WordCount,
		ReadingTime:      a.ReadingTime,
		ExtractionMethod: a.ExtractionMethod,
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if includeText {
		v.Text = a.Text
	}
	if a.Tags != "" {
		_ = json.Unmarshal([]byte(a.Tags), &v.Tags)
	}
	return v
}

func handleListArchives(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		archives, err := deps.Store.ListArchives(requestUser(r, deps), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list archives: %v", err)
			return
		}

		views := make([]archiveView, len(archives))
		for i, a := range archives {
			views[i] = toView(a, false)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetArchive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		a, err := deps.Store.GetArchive(id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && a.UserID != requestUser(r, deps)) {
			httpError(w, http.StatusNotFound, "not_found", "archive not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get archive: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toView(a, true))
	}
}

func handleDeleteArchive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteArchive(requestUser(r, deps), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "archive not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete archive: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// requestUser resolves the acting user from the X-User-ID header.
func requestUser(r *http.Request, deps AppDeps) string {
	if u := strings.TrimSpace(r.Header.Get("X-User-ID")); u != "" {
		return u
	}
	return deps.DefaultUser
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": msg,
		},
	})
}
