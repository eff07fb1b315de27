package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemory_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 2)

	vecs := map[string][]float32{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0, 1},
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := m.Insert(ctx, id, vecs[id]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Query(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("unexpected order: %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not non-increasing at %d: %v", i, got)
		}
	}
	if got[0].Score < 0.999 {
		t.Errorf("identical vector should score ~1.0, got %f", got[0].Score)
	}
}

func TestMemory_TieBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 2)

	// Same vector, so identical scores: insertion order must decide.
	for _, id := range []string{"first", "second", "third"} {
		if err := m.Insert(ctx, id, []float32{1, 1}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Query(ctx, []float32{1, 1}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if got[i].ID != w {
			t.Fatalf("tie-break order wrong: got %v", got)
		}
	}
}

func TestMemory_KLargerThanSize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 2)
	_ = m.Insert(ctx, "only", []float32{1, 0})

	got, err := m.Query(ctx, []float32{1, 0}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected all entries when k > size, got %d", len(got))
	}
}

func TestMemory_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 3)
	if err := m.Insert(ctx, "a", []float32{1, 0}); err == nil {
		t.Error("expected error inserting wrong-dimension vector")
	}
	if _, err := m.Query(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("expected error querying with wrong-dimension vector")
	}
}

func TestMemory_RemoveAndSize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 1)
	_ = m.Insert(ctx, "a", []float32{1})
	_ = m.Insert(ctx, "b", []float32{2})

	if m.Size() != 2 {
		t.Fatalf("expected size 2, got %d", m.Size())
	}
	if err := m.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if m.Size() != 1 {
		t.Errorf("expected size 1 after remove, got %d", m.Size())
	}

	got, err := m.Query(ctx, []float32{1}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("unexpected entries after remove: %v", got)
	}

	// Removing a missing ID is a no-op.
	if err := m.Remove(ctx, "missing"); err != nil {
		t.Errorf("remove of missing id should not fail: %v", err)
	}
}

func TestMemory_L2Metric(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricL2, 2)
	_ = m.Insert(ctx, "near", []float32{1, 1})
	_ = m.Insert(ctx, "far", []float32{10, 10})

	got, err := m.Query(ctx, []float32{0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ID != "near" {
		t.Errorf("expected nearest entry first, got %v", got)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("L2 scores should decrease with distance: %v", got)
	}
}

func TestMemory_ConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Insert(ctx, fmt.Sprintf("c%d", i), []float32{float32(i + 1)})
		}(i)
	}
	wg.Wait()

	if m.Size() != 50 {
		t.Errorf("expected 50 entries after concurrent inserts, got %d", m.Size())
	}
}

func TestMemory_CloseReleasesEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MetricCosine, 1)
	_ = m.Insert(ctx, "a", []float32{1})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Size() != 0 {
		t.Errorf("expected empty index after close, got %d", m.Size())
	}
}
