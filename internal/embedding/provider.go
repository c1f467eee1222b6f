// Package embedding wraps the external embedding provider. Providers signal
// unavailability with ErrUnavailable instead of hard failures; callers
// degrade the affected chunk to lexical-only indexing.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is the sentinel for a provider that is not configured,
// unreachable, or rate-limited. Chunk ingestion continues without a vector.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider generates embedding vectors for text. Dimensionality is fixed
// per provider.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NullProvider is the configuration-selected stand-in when no provider is
// set up. Every call reports ErrUnavailable, so all content indexes as
// lexical-only.
type NullProvider struct{}

func (NullProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}
