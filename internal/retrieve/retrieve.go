// Package retrieve answers similarity queries against a published
// session: embed the question, query the index, filter and deduplicate.
package retrieve

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/desolveai/desolve/internal/chunker"
	"github.com/desolveai/desolve/internal/observability"
	"github.com/desolveai/desolve/internal/session"
)

// Scored is a retrieved chunk with its similarity score.
type Scored struct {
	Chunk chunker.Chunk
	Score float32
}

// Config bounds a retrieval.
type Config struct {
	TopK     int
	MinScore float32
}

// DefaultConfig returns the standard retrieval bounds.
func DefaultConfig() Config {
	return Config{TopK: 5, MinScore: 0.25}
}

// Retriever runs similarity retrieval against published sessions.
type Retriever struct {
	config Config
}

// New creates a Retriever.
func New(config Config) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	return &Retriever{config: config}
}

// Retrieve embeds queryText with the session's own provider, queries the
// session's index for the top k candidates, drops candidates below the
// score threshold and deduplicates overlapping chunks from the same
// source. An empty index yields an empty result; a threshold that would
// drop everything falls back to the best single candidate so generation
// always receives some grounding.
func (r *Retriever) Retrieve(ctx context.Context, sess *session.Session, queryText string) ([]Scored, error) {
	ctx, span := observability.Tracer().Start(ctx, "retrieve",
		trace.WithAttributes(
			attribute.String("session.key", sess.Key),
			attribute.Int("retrieve.top_k", r.config.TopK),
		))
	defer span.End()

	if sess.Index.Size() == 0 {
		return nil, nil
	}

	vector, err := sess.Embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	entries, err := sess.Index.Query(ctx, vector, r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		chunk, ok := sess.Chunks[e.ID]
		if !ok {
			return nil, fmt.Errorf("index entry %q has no chunk", e.ID)
		}
		scored = append(scored, Scored{Chunk: chunk, Score: e.Score})
	}

	kept := filterByScore(scored, r.config.MinScore)
	kept = dedupeOverlapping(kept)

	span.SetAttributes(attribute.Int("retrieve.results", len(kept)))
	return kept, nil
}

// filterByScore drops entries below minScore but never returns an empty
// result from a non-empty candidate set: the best single candidate
// survives even below threshold.
func filterByScore(scored []Scored, minScore float32) []Scored {
	kept := scored[:0:0]
	for _, s := range scored {
		if s.Score >= minScore {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return scored[:1]
	}
	return kept
}

// dedupeOverlapping collapses chunks from the same source whose byte
// ranges touch or overlap, keeping the highest-scoring one. Input is
// sorted by decreasing score, so the first chunk seen for a region wins.
func dedupeOverlapping(scored []Scored) []Scored {
	kept := make([]Scored, 0, len(scored))
	for _, s := range scored {
		overlaps := false
		for _, k := range kept {
			if k.Chunk.Source == s.Chunk.Source && rangesOverlap(k.Chunk, s.Chunk) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}
	return kept
}

func rangesOverlap(a, b chunker.Chunk) bool {
	return a.Start <= b.End && b.Start <= a.End
}
