// Package embed converts text into fixed-dimensionality vectors for
// similarity search. Implementations are pluggable per session.
package embed

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the underlying provider is unreachable or
// rate-limited. Callers retry with backoff and eventually drop the chunk.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider produces embedding vectors for text.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// Dimension returns the length of vectors this provider emits.
	Dimension() int
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	// It exists purely as a throughput concern; ranking semantics are
	// identical to per-text Embed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
