package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Input != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2}}})
	}))
	t.Cleanup(srv.Close)

	p := NewOllamaProvider(srv.URL, "nomic-embed-text")
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestOllamaProvider_UnavailableStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		p := NewOllamaProvider(srv.URL, "m")
		_, err := p.Embed(context.Background(), "x")
		srv.Close()
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("status %d: got %v, want ErrUnavailable", status, err)
		}
	}
}

func TestOllamaProvider_Unreachable(t *testing.T) {
	// Port 1 is essentially guaranteed closed.
	p := NewOllamaProvider("http://127.0.0.1:1", "m")
	_, err := p.Embed(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestNullProvider(t *testing.T) {
	_, err := NullProvider{}.Embed(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}
