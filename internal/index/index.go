// Package index provides nearest-neighbor search over chunk embeddings.
// Every index is owned exclusively by one session.
package index

import "context"

// Metric is the similarity metric, fixed at index construction.
type Metric string

const (
	// MetricCosine is scale-invariant and matches most embedding
	// providers' training objective.
	MetricCosine Metric = "cosine"
	// MetricL2 ranks by negated Euclidean distance.
	MetricL2 Metric = "l2"
)

// Entry is a single match from a similarity query.
type Entry struct {
	ID    string
	Score float32
}

// Index maps chunk IDs to embedding vectors and answers k-nearest-neighbor
// queries ordered by decreasing similarity. Ties break by insertion order.
type Index interface {
	// Insert adds a vector under the given chunk ID. Inserts for the
	// same index may run concurrently.
	Insert(ctx context.Context, id string, vector []float32) error
	// Query returns up to k entries sorted by decreasing score. When k
	// exceeds Size it returns all entries rather than failing.
	Query(ctx context.Context, vector []float32, k int) ([]Entry, error)
	// Remove deletes an entry. Used only during cleanup.
	Remove(ctx context.Context, id string) error
	// Size returns the number of stored entries.
	Size() int
	// Close releases all owned resources.
	Close() error
}
