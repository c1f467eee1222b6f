package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	maxFetchSize   = 10 << 20 // 10MB
	defaultTimeout = 30 * time.Second
	wordsPerMinute = 200
)

// HTTPExtractor fetches URLs over HTTP and extracts text from HTML or PDF
// responses.
type HTTPExtractor struct {
	client    *http.Client
	userAgent string
}

// NewHTTPExtractor creates an HTTPExtractor. A nil client gets a default
// with a per-request timeout; retries and pacing are the importer's job.
func NewHTTPExtractor(client *http.Client) *HTTPExtractor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPExtractor{
		client:    client,
		userAgent: "pagevault/1.0 (+https://github.com/pagevault/pagevault)",
	}
}

// Extract fetches the URL and dispatches on Content-Type. HTML goes through
// the DOM text extractor, PDF through the plain-text reader; anything else
// served as text is taken verbatim.
func (e *HTTPExtractor) Extract(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/pdf"):
		return finishDocument(extractPDF(body))
	case strings.Contains(contentType, "text/plain"):
		doc := &Document{Text: strings.TrimSpace(string(body)), Method: "plain"}
		return finishDocument(doc, nil)
	default:
		// Treat everything else as HTML; sniffing beats trusting servers
		// that omit or lie about Content-Type.
		return finishDocument(extractHTML(bytes.NewReader(body)))
	}
}

// finishDocument fills the derived fields and rejects empty extractions.
func finishDocument(doc *Document, err error) (*Document, error) {
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptyContent
	}

	doc.WordCount = len(strings.Fields(doc.Text))
	doc.ReadingTime = int(math.Ceil(float64(doc.WordCount) / wordsPerMinute))
	if doc.Markdown == "" {
		var b strings.Builder
		if doc.Title != "" {
			b.WriteString("# ")
			b.WriteString(doc.Title)
			b.WriteString("\n\n")
		}
		b.WriteString(doc.Text)
		doc.Markdown = b.String()
	}
	return doc, nil
}
