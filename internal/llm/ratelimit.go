package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures request and token throughput limits for a
// generation backend.
type RateLimitConfig struct {
	// RequestsPerMinute limits API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// TokensPerMinute limits estimated input tokens per minute
	// (0 = unlimited)
	TokensPerMinute int
	// BurstSize allows a temporary burst above the request rate
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier
// cloud providers.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 25,
		TokensPerMinute:   25000,
		BurstSize:         3,
	}
}

// RateLimitBackend wraps a Backend with request- and token-per-minute
// limiting. Input tokens are estimated from the payload using the
// backend's own budget unit.
type RateLimitBackend struct {
	inner  Backend
	config *RateLimitConfig

	mu            sync.Mutex
	requestTokens int
	tokenBudget   int
	lastRefill    time.Time
	windowStart   time.Time
}

// NewRateLimitBackend creates a rate-limited backend wrapper.
func NewRateLimitBackend(inner Backend, config *RateLimitConfig) *RateLimitBackend {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitBackend{
		inner:         inner,
		config:        config,
		requestTokens: burst,
		tokenBudget:   config.TokensPerMinute,
		lastRefill:    time.Now(),
		windowStart:   time.Now(),
	}
}

func (r *RateLimitBackend) Name() string   { return r.inner.Name() }
func (r *RateLimitBackend) Budget() Budget { return r.inner.Budget() }

func (r *RateLimitBackend) Summarize(ctx context.Context, payload *PromptPayload) (string, error) {
	if err := r.waitForCapacity(ctx, r.estimate(payload)); err != nil {
		return "", err
	}
	return r.inner.Summarize(ctx, payload)
}

func (r *RateLimitBackend) Answer(ctx context.Context, payload *PromptPayload) (string, error) {
	if err := r.waitForCapacity(ctx, r.estimate(payload)); err != nil {
		return "", err
	}
	return r.inner.Answer(ctx, payload)
}

// estimate converts the payload size into a token count for the TPM
// window, regardless of the backend's budget unit.
func (r *RateLimitBackend) estimate(payload *PromptPayload) int {
	b := r.inner.Budget()
	n := b.Measure(payload.System) + b.Measure(payload.Text)
	if b.Unit == UnitChars {
		n = (n + charsPerToken - 1) / charsPerToken
	}
	return n
}

// waitForCapacity blocks until both limits allow a request of the given
// estimated token cost.
func (r *RateLimitBackend) waitForCapacity(ctx context.Context, tokens int) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.config.RequestsPerMinute == 0 && r.config.TokensPerMinute == 0 {
			r.mu.Unlock()
			return nil
		}

		hasRequest := r.config.RequestsPerMinute == 0 || r.requestTokens > 0
		hasTokens := r.config.TokensPerMinute == 0 || r.tokenBudget >= tokens

		if hasRequest && hasTokens {
			if r.config.RequestsPerMinute > 0 {
				r.requestTokens--
			}
			if r.config.TokensPerMinute > 0 {
				r.tokenBudget -= tokens
			}
			r.mu.Unlock()
			return nil
		}

		wait := r.waitTime()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RateLimitBackend) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)

	if r.config.RequestsPerMinute > 0 {
		add := int(elapsed.Minutes() * float64(r.config.RequestsPerMinute))
		if add > 0 {
			r.requestTokens += add
			burst := r.config.BurstSize
			if burst <= 0 {
				burst = 1
			}
			if r.requestTokens > burst {
				r.requestTokens = burst
			}
			r.lastRefill = now
		}
	} else {
		r.lastRefill = now
	}

	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.tokenBudget = r.config.TokensPerMinute
	}
}

func (r *RateLimitBackend) waitTime() time.Duration {
	if r.config.RequestsPerMinute > 0 && r.requestTokens <= 0 {
		perToken := time.Minute / time.Duration(r.config.RequestsPerMinute)
		if perToken < 50*time.Millisecond {
			perToken = 50 * time.Millisecond
		}
		return perToken
	}
	remaining := time.Minute - time.Since(r.windowStart)
	if remaining < 50*time.Millisecond {
		remaining = 50 * time.Millisecond
	}
	return remaining
}
