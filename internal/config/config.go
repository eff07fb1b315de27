package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Backends  BackendsConfig  `mapstructure:"backends"`
	Vector    VectorConfig    `mapstructure:"vector"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type EmbeddingConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
}

// BackendConfig configures one generation backend.
type BackendConfig struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	TokensPerMinute   int    `mapstructure:"tokens_per_minute"`
}

type BackendsConfig struct {
	Default string                   `mapstructure:"default"`
	Gemini  BackendConfig            `mapstructure:"gemini"`
	Groq    BackendConfig            `mapstructure:"groq"`
	Extra   map[string]BackendConfig `mapstructure:"extra"`
}

// Resolve returns the named backend's config; unknown names fall
// through to Extra.
func (b BackendsConfig) Resolve(name string) (BackendConfig, bool) {
	switch name {
	case "gemini":
		return b.Gemini, true
	case "groq":
		return b.Groq, true
	}
	cfg, ok := b.Extra[name]
	return cfg, ok
}

// VectorConfig selects the index implementation: "memory" or "qdrant".
type VectorConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

type IngestConfig struct {
	MaxFileBytes   int     `mapstructure:"max_file_bytes"`
	ChunkMaxSize   int     `mapstructure:"chunk_max_size"`
	ChunkMinSize   int     `mapstructure:"chunk_min_size"`
	ChunkOverlap   int     `mapstructure:"chunk_overlap"`
	EmbedBatchSize int     `mapstructure:"embed_batch_size"`
	EmbedWorkers   int     `mapstructure:"embed_workers"`
	DropRateLimit  float64 `mapstructure:"drop_rate_limit"`
}

type RetrievalConfig struct {
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Embedding.APIKey == "" {
		warnings = append(warnings, "embedding api_key is empty; ingestion will fail")
	}
	if c.Backends.Gemini.APIKey == "" && c.Backends.Groq.APIKey == "" {
		warnings = append(warnings, "no generation backend has an api_key configured")
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		warnings = append(warnings, fmt.Sprintf("retrieval min_score %.2f is outside [0.0, 1.0]", c.Retrieval.MinScore))
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkMaxSize && c.Ingest.ChunkMaxSize > 0 {
		warnings = append(warnings, fmt.Sprintf("chunk_overlap %d is not smaller than chunk_max_size %d", c.Ingest.ChunkOverlap, c.Ingest.ChunkMaxSize))
	}
	if c.Vector.Driver == "qdrant" && c.Vector.Host == "" {
		warnings = append(warnings, "vector driver is qdrant but host is empty")
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("backends.default", "gemini")
	v.SetDefault("vector.driver", "memory")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("ingest.max_file_bytes", 512*1024)
	v.SetDefault("ingest.chunk_max_size", 2000)
	v.SetDefault("ingest.chunk_min_size", 200)
	v.SetDefault("ingest.chunk_overlap", 160)
	v.SetDefault("ingest.embed_batch_size", 64)
	v.SetDefault("ingest.embed_workers", 4)
	v.SetDefault("ingest.drop_rate_limit", 0.20)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_score", 0.25)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindSecrets registers keys that carry no default so AutomaticEnv can
// still see them. Viper only consults the environment for keys it knows
// about, and secrets never appear in setDefaults.
func bindSecrets(v *viper.Viper) {
	for _, key := range []string{
		"embedding.api_key",
		"embedding.base_url",
		"backends.gemini.api_key",
		"backends.gemini.model",
		"backends.gemini.base_url",
		"backends.groq.api_key",
		"backends.groq.model",
		"backends.groq.base_url",
		"github.token",
		"vector.host",
		"tracing.otlp_endpoint",
	} {
		v.MustBindEnv(key)
	}
}

// Load reads configuration from file and environment. An empty path
// loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindSecrets(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
