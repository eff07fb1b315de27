package llm

import (
	"fmt"
	"time"
)

// BackendConfig holds all configuration needed to create any generation
// backend.
type BackendConfig struct {
	Backend string // "gemini", "groq"
	APIKey  string
	Model   string
	BaseURL string // override for self-hosted / proxy endpoints

	// Timeout and retry configuration
	Timeout    time.Duration // per-request timeout (default: 90s)
	MaxRetries int           // max retry attempts (default: 3)
	RetryDelay time.Duration // initial backoff delay (default: 1s)

	// Optional rate limiting
	RequestsPerMinute int
	TokensPerMinute   int
}

// DefaultBackendConfig returns a config with sensible defaults.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Timeout:    90 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// BackendConstructor builds a Backend from config.
type BackendConstructor func(cfg BackendConfig) (Backend, error)

// Factory creates Backend instances from config.
type Factory struct {
	constructors map[string]BackendConstructor
}

// NewFactory creates an empty factory; callers register the concrete
// backends they link in.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]BackendConstructor)}
}

// Register adds a backend constructor under the given name.
func (f *Factory) Register(name string, ctor BackendConstructor) {
	f.constructors[name] = ctor
}

// Names returns the registered backend names.
func (f *Factory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	return out
}

// Create builds a Backend from config, wrapped with retry logic and,
// when limits are configured, rate limiting.
func (f *Factory) Create(cfg BackendConfig) (Backend, error) {
	ctor, ok := f.constructors[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown generation backend %q (registered: %v)", cfg.Backend, f.Names())
	}

	backend, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 || cfg.TokensPerMinute > 0 {
		backend = NewRateLimitBackend(backend, &RateLimitConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			TokensPerMinute:   cfg.TokensPerMinute,
		})
	}

	retryCfg := DefaultRetryConfig()
	if cfg.Timeout > 0 {
		retryCfg.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retryCfg.RetryDelay = cfg.RetryDelay
	}
	return NewRetryBackend(backend, retryCfg), nil
}
