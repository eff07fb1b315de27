package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	id   string
	vec  []float32
	norm float32
	seq  int
}

// Memory is an exact brute-force index. It preserves the full ordering
// contract (decreasing score, insertion-order tie-break) and is the
// reference implementation correctness tests run against.
type Memory struct {
	mu        sync.RWMutex
	metric    Metric
	dimension int
	entries   []memoryEntry
	byID      map[string]int // position in entries
	nextSeq   int
}

// NewMemory creates an in-memory index for vectors of the given dimension.
func NewMemory(metric Metric, dimension int) *Memory {
	if metric == "" {
		metric = MetricCosine
	}
	return &Memory{
		metric:    metric,
		dimension: dimension,
		byID:      make(map[string]int),
	}
}

func (m *Memory) Insert(ctx context.Context, id string, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vector) != m.dimension {
		return fmt.Errorf("index: vector dimension %d, want %d", len(vector), m.dimension)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pos, ok := m.byID[id]; ok {
		// Re-insert replaces the vector but keeps insertion order.
		m.entries[pos].vec = vector
		m.entries[pos].norm = l2norm(vector)
		return nil
	}
	m.entries = append(m.entries, memoryEntry{
		id:   id,
		vec:  vector,
		norm: l2norm(vector),
		seq:  m.nextSeq,
	})
	m.byID[id] = len(m.entries) - 1
	m.nextSeq++
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("index: query dimension %d, want %d", len(vector), m.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		Entry
		seq int
	}
	qnorm := l2norm(vector)
	results := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, scored{
			Entry: Entry{ID: e.id, Score: m.score(vector, qnorm, e)},
			seq:   e.seq,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].seq < results[j].seq
	})

	if k > len(results) {
		k = len(results)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = results[i].Entry
	}
	return out, nil
}

func (m *Memory) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.byID[id]
	if !ok {
		return nil
	}
	m.entries = append(m.entries[:pos], m.entries[pos+1:]...)
	delete(m.byID, id)
	for i := pos; i < len(m.entries); i++ {
		m.byID[m.entries[i].id] = i
	}
	return nil
}

func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.byID = map[string]int{}
	return nil
}

func (m *Memory) score(query []float32, qnorm float32, e memoryEntry) float32 {
	switch m.metric {
	case MetricL2:
		var sum float64
		for i := range query {
			d := float64(query[i] - e.vec[i])
			sum += d * d
		}
		return float32(-math.Sqrt(sum))
	default: // cosine
		if qnorm == 0 || e.norm == 0 {
			return 0
		}
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(e.vec[i])
		}
		return float32(dot / float64(qnorm) / float64(e.norm))
	}
}

func l2norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
