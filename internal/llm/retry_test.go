package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedBackend returns errs in order, then succeeds.
type scriptedBackend struct {
	errs  []error
	calls int
	delay time.Duration
}

func (s *scriptedBackend) Name() string   { return "scripted" }
func (s *scriptedBackend) Budget() Budget { return Budget{Unit: UnitTokens, MaxInput: 6000, Reserved: 400} }

func (s *scriptedBackend) Summarize(ctx context.Context, payload *PromptPayload) (string, error) {
	return s.run(ctx)
}

func (s *scriptedBackend) Answer(ctx context.Context, payload *PromptPayload) (string, error) {
	return s.run(ctx)
}

func (s *scriptedBackend) run(ctx context.Context) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return "ok", nil
}

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestRetryBackend_RecoversFromTransientErrors(t *testing.T) {
	inner := &scriptedBackend{errs: []error{
		fmt.Errorf("%w: 503", ErrUnavailable),
		fmt.Errorf("%w: 429", ErrUnavailable),
	}}
	rb := NewRetryBackend(inner, fastRetryConfig())

	got, err := rb.Answer(context.Background(), &PromptPayload{Text: "q"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Answer() = %q, want %q", got, "ok")
	}
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3", inner.calls)
	}
}

func TestRetryBackend_ExhaustsRetries(t *testing.T) {
	inner := &scriptedBackend{errs: []error{
		ErrUnavailable, ErrUnavailable, ErrUnavailable, ErrUnavailable,
	}}
	rb := NewRetryBackend(inner, fastRetryConfig())

	_, err := rb.Answer(context.Background(), &PromptPayload{Text: "q"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Answer() error = %v, want ErrUnavailable", err)
	}
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3 (initial + 2 retries)", inner.calls)
	}
}

func TestRetryBackend_DoesNotRetryRejected(t *testing.T) {
	inner := &scriptedBackend{errs: []error{
		fmt.Errorf("%w: unsafe prompt", ErrRejected),
	}}
	rb := NewRetryBackend(inner, fastRetryConfig())

	_, err := rb.Summarize(context.Background(), &PromptPayload{Text: "q"})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Summarize() error = %v, want ErrRejected", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
}

func TestRetryBackend_DeadlineSurfacesAsTimeout(t *testing.T) {
	inner := &scriptedBackend{
		delay: 200 * time.Millisecond,
		errs: []error{
			context.DeadlineExceeded, context.DeadlineExceeded,
			context.DeadlineExceeded, context.DeadlineExceeded,
		},
	}
	cfg := fastRetryConfig()
	cfg.Timeout = 10 * time.Millisecond
	rb := NewRetryBackend(inner, cfg)

	_, err := rb.Answer(context.Background(), &PromptPayload{Text: "q"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Answer() error = %v, want ErrTimeout", err)
	}
}

func TestRetryBackend_ParentCancellation(t *testing.T) {
	inner := &scriptedBackend{errs: []error{ErrUnavailable, ErrUnavailable, ErrUnavailable}}
	cfg := fastRetryConfig()
	cfg.RetryDelay = time.Second
	rb := NewRetryBackend(inner, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rb.Answer(ctx, &PromptPayload{Text: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Answer() error = %v, want context.Canceled", err)
	}
}
