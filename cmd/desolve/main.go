package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/desolveai/desolve/internal/config"
	"github.com/desolveai/desolve/internal/embed"
	"github.com/desolveai/desolve/internal/engine"
	"github.com/desolveai/desolve/internal/fetch"
	"github.com/desolveai/desolve/internal/index"
	"github.com/desolveai/desolve/internal/llm"
	"github.com/desolveai/desolve/internal/llm/gemini"
	"github.com/desolveai/desolve/internal/llm/groq"
	"github.com/desolveai/desolve/internal/observability"
	"github.com/desolveai/desolve/internal/retrieve"
	"github.com/desolveai/desolve/internal/server"
	"github.com/desolveai/desolve/internal/session"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "desolve",
		Short: "Repository question answering over retrieved code and issues",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	backendsCmd := &cobra.Command{
		Use:   "backends",
		Short: "List available generation backends",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available generation backends:")
			fmt.Println()
			fmt.Println("  gemini   Google Generative Language API")
			fmt.Println("  groq     Groq OpenAI-compatible chat completions")
			fmt.Println()
			fmt.Println("Configure in desolve.yaml or via environment:")
			fmt.Println("  DESOLVE_BACKENDS_DEFAULT=groq")
			fmt.Println("  DESOLVE_BACKENDS_GROQ_API_KEY=gsk_...")
			fmt.Println("  DESOLVE_EMBEDDING_API_KEY=sk-...")
		},
	}

	rootCmd.AddCommand(serveCmd, backendsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "desolve",
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	metrics := observability.NewMetrics()

	embedder := embed.NewRetryProvider(
		embed.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimension),
		nil,
	)

	factory := newBackendFactory()
	store := session.NewStore()
	eng := engine.New(
		store,
		fetch.NewGitFetcher(cfg.GitHub.Token, cfg.Ingest.MaxFileBytes),
		fetch.NewGitHubIssues(cfg.GitHub.Token),
		newIndexFactory(cfg),
		engineConfig(cfg),
		metrics,
	)

	resolver := func(name string) (llm.Backend, error) {
		bc, ok := cfg.Backends.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("unknown generation backend %q", name)
		}
		fc := llm.DefaultBackendConfig()
		fc.Backend = name
		fc.APIKey = bc.APIKey
		fc.Model = bc.Model
		fc.BaseURL = bc.BaseURL
		fc.RequestsPerMinute = bc.RequestsPerMinute
		fc.TokensPerMinute = bc.TokensPerMinute
		return factory.Create(fc)
	}

	api := server.NewServer(
		&server.Config{ListenAddr: cfg.Server.Addr, DefaultBackend: cfg.Backends.Default},
		eng, embedder, resolver, factory.Names(), metrics,
	)

	health := server.NewHealthServer(&server.HealthConfig{Version: version})
	var vectorPing func(ctx context.Context) error
	if cfg.Vector.Driver == "qdrant" {
		vectorPing = func(ctx context.Context) error {
			return index.PingQdrant(ctx, cfg.Vector.Host, cfg.Vector.Port)
		}
	}
	health.RegisterCheck("vector", server.VectorHealthChecker(cfg.Vector.Driver, vectorPing))
	health.RegisterCheck("backend", server.BackendHealthChecker(cfg.Backends.Default, nil))
	health.RegisterCheck("sessions", server.SessionCountChecker(func() int {
		return len(store.Keys())
	}))
	api.SetHealth(health)

	shutdown := server.NewShutdownHandler(nil)
	shutdown.RegisterHook("readiness", 5, func(ctx context.Context) error {
		health.SetReady(false)
		return nil
	})
	shutdown.Register(server.HTTPServerShutdownHook("api-server", api.Stop))
	shutdown.Register(server.TracingShutdownHook(tracing.Shutdown))
	shutdown.Register(server.SessionStoreShutdownHook(func() error {
		for _, key := range store.Keys() {
			if err := store.Delete(key); err != nil {
				return err
			}
		}
		return nil
	}))
	shutdown.Start()
	health.SetReady(true)

	errCh := make(chan error, 1)
	go func() { errCh <- api.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-shutdown.Done():
		return nil
	}
}

func newBackendFactory() *llm.Factory {
	factory := llm.NewFactory()
	factory.Register("gemini", func(cfg llm.BackendConfig) (llm.Backend, error) {
		return gemini.New(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	})
	factory.Register("groq", func(cfg llm.BackendConfig) (llm.Backend, error) {
		return groq.New(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	})
	return factory
}

func newIndexFactory(cfg *config.Config) engine.IndexFactory {
	if cfg.Vector.Driver != "qdrant" {
		return engine.MemoryIndexFactory
	}
	return func(ctx context.Context, sessionKey string, dimension int) (index.Index, error) {
		collection := cfg.Vector.Collection
		if collection == "" {
			collection = "desolve"
		}
		name := fmt.Sprintf("%s-%s", collection, strings.ReplaceAll(sessionKey, "/", "-"))
		return index.NewQdrant(ctx, cfg.Vector.Host, cfg.Vector.Port, name,
			index.MetricCosine, dimension)
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.ChunkConfig.MaxSize = cfg.Ingest.ChunkMaxSize
	ec.ChunkConfig.MinSize = cfg.Ingest.ChunkMinSize
	ec.ChunkConfig.Overlap = cfg.Ingest.ChunkOverlap
	ec.EmbedBatchSize = cfg.Ingest.EmbedBatchSize
	ec.EmbedWorkers = cfg.Ingest.EmbedWorkers
	ec.DropRateLimit = cfg.Ingest.DropRateLimit
	ec.Retrieval = retrieve.Config{
		TopK:     cfg.Retrieval.TopK,
		MinScore: float32(cfg.Retrieval.MinScore),
	}
	return ec
}
