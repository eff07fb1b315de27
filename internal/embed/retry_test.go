package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// flakyProvider fails with the configured error until failures runs out.
type flakyProvider struct {
	failures int
	err      error
	calls    int
	vec      []float32
}

func (f *flakyProvider) Name() string   { return "flaky" }
func (f *flakyProvider) Dimension() int { return len(f.vec) }

func (f *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestRetryProvider_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: fmt.Errorf("%w: 429", ErrUnavailable), vec: []float32{1, 0}}
	r := NewRetryProvider(inner, fastRetryConfig(3))

	vec, err := r.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("unexpected vector: %v", vec)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryProvider_ExhaustsRetries(t *testing.T) {
	inner := &flakyProvider{failures: 100, err: fmt.Errorf("%w: down", ErrUnavailable), vec: []float32{1}}
	r := NewRetryProvider(inner, fastRetryConfig(2))

	_, err := r.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after exhaustion, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryProvider_NonRetryableFailsFast(t *testing.T) {
	inner := &flakyProvider{failures: 100, err: errors.New("bad request"), vec: []float32{1}}
	r := NewRetryProvider(inner, fastRetryConfig(5))

	_, err := r.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected no retries for non-retryable error, got %d calls", inner.calls)
	}
}

func TestRetryProvider_CancelledContext(t *testing.T) {
	inner := &flakyProvider{failures: 100, err: fmt.Errorf("%w: down", ErrUnavailable), vec: []float32{1}}
	r := NewRetryProvider(inner, fastRetryConfig(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.EmbedBatch(ctx, []string{"a", "b"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
