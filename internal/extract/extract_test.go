package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Gemini Embeddings Explained</title>
<meta name="description" content="A practical guide to gemini embeddings.">
<script>var tracker = "ignore me";</script>
<style>body { color: red; }</style>
</head>
<body>
<nav>Home | About | Contact</nav>
<article>
<h1>Gemini Embeddings Explained</h1>
<p>Embeddings map text into vectors.</p>
<p>The gemini embeddings model produces 768 dimensions.</p>
</article>
<footer>Copyright 2025</footer>
</body>
</html>`

func TestExtract_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	t.Cleanup(srv.Close)

	doc, err := NewHTTPExtractor(srv.Client()).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if doc.Title != "Gemini Embeddings Explained" {
		t.Errorf("title = %q", doc.Title)
	}
	if doc.Description != "A practical guide to gemini embeddings." {
		t.Errorf("description = %q", doc.Description)
	}
	if !strings.Contains(doc.Text, "Embeddings map text into vectors.") {
		t.Errorf("text missing body paragraph: %q", doc.Text)
	}
	if strings.Contains(doc.Text, "tracker") || strings.Contains(doc.Text, "color: red") {
		t.Errorf("text contains script/style content: %q", doc.Text)
	}
	if strings.Contains(doc.Text, "Home | About") || strings.Contains(doc.Text, "Copyright") {
		t.Errorf("text contains nav/footer chrome: %q", doc.Text)
	}
	if doc.WordCount == 0 || doc.ReadingTime == 0 {
		t.Errorf("derived fields not set: words=%d reading=%d", doc.WordCount, doc.ReadingTime)
	}
	if doc.Method != "html" {
		t.Errorf("method = %q", doc.Method)
	}
	if !strings.HasPrefix(doc.Markdown, "# Gemini Embeddings Explained") {
		t.Errorf("markdown = %q", doc.Markdown)
	}
}

func TestExtract_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just some plain words here"))
	}))
	t.Cleanup(srv.Close)

	doc, err := NewHTTPExtractor(srv.Client()).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Text != "just some plain words here" || doc.Method != "plain" {
		t.Errorf("unexpected doc: %+v", doc)
	}
}

func TestExtract_ErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/empty":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><head><script>x</script></head><body></body></html>"))
		}
	}))
	t.Cleanup(srv.Close)

	e := NewHTTPExtractor(srv.Client())

	if _, err := e.Extract(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := e.Extract(context.Background(), srv.URL+"/empty"); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty page: got %v, want ErrEmptyContent", err)
	}
}

func TestExtract_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHTTPExtractor(srv.Client()).Extract(ctx, srv.URL); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestNullExtractor(t *testing.T) {
	if _, err := (NullExtractor{}).Extract(context.Background(), "https://x"); !errors.Is(err, ErrDisabled) {
		t.Errorf("got %v, want ErrDisabled", err)
	}
}
