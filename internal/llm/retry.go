package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for generation calls.
type RetryConfig struct {
	MaxRetries int           // maximum retry attempts (0 = no retries)
	RetryDelay time.Duration // initial delay between retries
	MaxDelay   time.Duration // cap for exponential backoff
	Timeout    time.Duration // per-attempt timeout
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    90 * time.Second,
	}
}

// RetryBackend wraps a Backend with per-attempt timeouts and bounded
// exponential backoff. ErrRejected is never retried; an exhausted
// deadline surfaces as ErrTimeout, never as an empty answer.
type RetryBackend struct {
	inner  Backend
	config *RetryConfig
}

// NewRetryBackend wraps an existing backend with retry logic.
func NewRetryBackend(inner Backend, config *RetryConfig) *RetryBackend {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryBackend{inner: inner, config: config}
}

func (r *RetryBackend) Name() string   { return r.inner.Name() }
func (r *RetryBackend) Budget() Budget { return r.inner.Budget() }

func (r *RetryBackend) Summarize(ctx context.Context, payload *PromptPayload) (string, error) {
	return r.call(ctx, payload, r.inner.Summarize)
}

func (r *RetryBackend) Answer(ctx context.Context, payload *PromptPayload) (string, error) {
	return r.call(ctx, payload, r.inner.Answer)
}

func (r *RetryBackend) call(ctx context.Context, payload *PromptPayload, fn func(context.Context, *PromptPayload) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		text, err := fn(attemptCtx, payload)
		deadlineHit := attemptCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && deadlineHit {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, r.config.Timeout, err)
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrRejected) {
			return "", err
		}
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, lastErr)
}

func (r *RetryBackend) backoff(attempt int) time.Duration {
	delay := r.config.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > r.config.MaxDelay {
			return r.config.MaxDelay
		}
	}
	return delay
}
