// Package engine orchestrates the ingestion and query pipelines over the
// session store, the collaborator adapters and the generation backends.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/desolveai/desolve/internal/chunker"
	"github.com/desolveai/desolve/internal/embed"
	"github.com/desolveai/desolve/internal/fetch"
	"github.com/desolveai/desolve/internal/index"
	"github.com/desolveai/desolve/internal/llm"
	"github.com/desolveai/desolve/internal/observability"
	"github.com/desolveai/desolve/internal/prompt"
	"github.com/desolveai/desolve/internal/retrieve"
	"github.com/desolveai/desolve/internal/session"
)

// Config bounds the ingestion pipeline.
type Config struct {
	ChunkConfig    chunker.Config
	EmbedBatchSize int
	EmbedWorkers   int
	// DropRateLimit aborts ingestion when more than this fraction of
	// chunks fail to embed; below it, failed chunks are dropped and the
	// session publishes without them.
	DropRateLimit float64
	Retrieval     retrieve.Config
}

// DefaultConfig returns the standard pipeline bounds.
func DefaultConfig() Config {
	return Config{
		ChunkConfig:    chunker.DefaultConfig(),
		EmbedBatchSize: 64,
		EmbedWorkers:   4,
		DropRateLimit:  0.20,
		Retrieval:      retrieve.DefaultConfig(),
	}
}

// IndexFactory builds a fresh vector index for one session.
type IndexFactory func(ctx context.Context, sessionKey string, dimension int) (index.Index, error)

// MemoryIndexFactory builds in-process cosine indexes.
func MemoryIndexFactory(ctx context.Context, sessionKey string, dimension int) (index.Index, error) {
	return index.NewMemory(index.MetricCosine, dimension), nil
}

// Engine wires the pipeline stages together. All methods are safe for
// concurrent use.
type Engine struct {
	store    *session.Store
	repos    fetch.RepoFetcher
	issues   fetch.IssueClient
	newIndex IndexFactory
	chunker  *chunker.Chunker
	config   Config
	metrics  *observability.Metrics
}

// New creates an Engine.
func New(store *session.Store, repos fetch.RepoFetcher, issues fetch.IssueClient, newIndex IndexFactory, config Config, metrics *observability.Metrics) *Engine {
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = DefaultConfig().EmbedBatchSize
	}
	if config.EmbedWorkers <= 0 {
		config.EmbedWorkers = DefaultConfig().EmbedWorkers
	}
	if config.DropRateLimit <= 0 {
		config.DropRateLimit = DefaultConfig().DropRateLimit
	}
	if newIndex == nil {
		newIndex = MemoryIndexFactory
	}
	return &Engine{
		store:    store,
		repos:    repos,
		issues:   issues,
		newIndex: newIndex,
		chunker:  chunker.New(config.ChunkConfig),
		config:   config,
		metrics:  metrics,
	}
}

// IngestResult is returned to the caller after a successful ingestion.
type IngestResult struct {
	SessionKey string        `json:"session_key"`
	Summary    string        `json:"summary"`
	Issues     []fetch.Issue `json:"issues"`
	Chunks     int           `json:"chunks"`
	Dropped    int           `json:"dropped"`
}

// Ingest fetches the repository, chunks and embeds its content, builds
// the index and publishes the session under key. Exactly one ingestion
// per key runs at a time; a concurrent attempt fails with
// session.ErrAlreadyBuilding. On any failure or cancellation before
// publish, a previously published session for the key stays intact.
func (e *Engine) Ingest(ctx context.Context, key, repoURL string, embedder embed.Provider, backend llm.Backend) (*IngestResult, error) {
	ctx, span := observability.StartIngestSpan(ctx, repoURL, backend.Name())
	defer span.End()
	log := clog.FromContext(ctx).With("session", key, "repo", repoURL)

	build, err := e.store.Create(key)
	if err != nil {
		return nil, err
	}
	defer build.Release()

	result, err := e.build(ctx, build, key, repoURL, embedder, backend)
	if err != nil {
		observability.RecordError(span, err)
		if e.metrics != nil {
			e.metrics.IngestsTotal.WithLabelValues("failure").Inc()
		}
		return nil, err
	}

	observability.RecordIngestResult(span, result.Chunks, result.Dropped)
	log.Info("ingestion complete", "chunks", result.Chunks, "dropped", result.Dropped, "issues", len(result.Issues))
	if e.metrics != nil {
		e.metrics.IngestsTotal.WithLabelValues("success").Inc()
		e.metrics.SessionsActive.Set(float64(len(e.store.Keys())))
	}
	return result, nil
}

func (e *Engine) build(ctx context.Context, build *session.Build, key, repoURL string, embedder embed.Provider, backend llm.Backend) (*IngestResult, error) {
	units, err := e.repos.Fetch(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	issues, err := e.issues.Issues(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	chunks, order := e.chunkAll(ctx, repoURL, units, issues)

	idx, err := e.newIndex(ctx, key, embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}

	kept, dropped, err := e.embedAndIndex(ctx, embedder, idx, chunks)
	if err != nil {
		idx.Close()
		return nil, err
	}

	table := make(map[string]chunker.Chunk, len(kept))
	for _, c := range kept {
		table[c.ID] = c
	}
	if err := checkBijection(table, idx); err != nil {
		idx.Close()
		return nil, err
	}

	summary := e.summarize(ctx, backend, sampleForSummary(kept, order))

	sess := &session.Session{
		Key:       key,
		Repo:      repoURL,
		Embedder:  embedder,
		Backend:   backend,
		Index:     idx,
		Chunks:    table,
		Issues:    issues,
		Summary:   summary,
		CreatedAt: time.Now(),
	}

	if ctx.Err() != nil {
		idx.Close()
		return nil, ctx.Err()
	}
	build.Publish(sess)

	return &IngestResult{
		SessionKey: key,
		Summary:    summary,
		Issues:     issues,
		Chunks:     len(kept),
		Dropped:    dropped,
	}, nil
}

// chunkAll chunks every source unit and every issue thread. Source units
// that cannot be chunked (binary or malformed) are skipped, not fatal.
// The returned order maps chunk ID to file-traversal position for the
// summary sampler.
func (e *Engine) chunkAll(ctx context.Context, repoURL string, units []fetch.SourceUnit, issues []fetch.Issue) ([]chunker.Chunk, map[string]int) {
	log := clog.FromContext(ctx)
	var all []chunker.Chunk
	order := make(map[string]int)
	pos := 0

	for _, u := range units {
		cs, err := e.chunker.Chunk(repoURL, u.Path, u.Text)
		if err != nil {
			log.Warn("skipping unchunkable file", "path", u.Path, "error", err)
			continue
		}
		for _, c := range cs {
			order[c.ID] = pos
			pos++
		}
		all = append(all, cs...)
	}

	for _, issue := range issues {
		source := fmt.Sprintf("issue-%d", issue.Number)
		cs, err := e.chunker.Chunk(repoURL, source, renderIssueText(issue))
		if err != nil {
			log.Warn("skipping unchunkable issue", "issue", issue.Number, "error", err)
			continue
		}
		for _, c := range cs {
			order[c.ID] = pos
			pos++
		}
		all = append(all, cs...)
	}

	return all, order
}

func renderIssueText(issue fetch.Issue) string {
	var sb strings.Builder
	sb.WriteString(issue.Title)
	sb.WriteString("\n")
	sb.WriteString(issue.Body)
	for _, c := range issue.Comments {
		sb.WriteString("\n")
		sb.WriteString(c)
	}
	return sb.String()
}

// embedAndIndex embeds chunks in batches over a bounded worker pool and
// inserts the vectors. A chunk whose embedding fails after retries is
// dropped; when the drop rate exceeds the configured limit the whole
// ingestion aborts instead of publishing a mostly-empty session.
func (e *Engine) embedAndIndex(ctx context.Context, embedder embed.Provider, idx index.Index, chunks []chunker.Chunk) ([]chunker.Chunk, int, error) {
	if len(chunks) == 0 {
		return nil, 0, nil
	}

	var mu sync.Mutex
	var kept []chunker.Chunk
	dropped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.EmbedWorkers)

	for start := 0; start < len(chunks); start += e.config.EmbedBatchSize {
		end := start + e.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			vectors, err := embedBatch(gctx, embedder, batch)
			if err != nil {
				return err
			}

			for i, c := range batch {
				if vectors[i] == nil {
					mu.Lock()
					dropped++
					mu.Unlock()
					if e.metrics != nil {
						e.metrics.ChunksDropped.Inc()
						e.metrics.EmbedFailures.Inc()
					}
					continue
				}
				if err := idx.Insert(gctx, c.ID, vectors[i]); err != nil {
					return fmt.Errorf("indexing chunk %s: %w", c.ID, err)
				}
				mu.Lock()
				kept = append(kept, c)
				mu.Unlock()
				if e.metrics != nil {
					e.metrics.ChunksIndexed.Inc()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, dropped, err
	}

	if rate := float64(dropped) / float64(len(chunks)); rate > e.config.DropRateLimit {
		return nil, dropped, fmt.Errorf("%w: %d of %d chunks failed to embed", embed.ErrUnavailable, dropped, len(chunks))
	}
	return kept, dropped, nil
}

// embedBatch embeds one batch, falling back to per-chunk calls when the
// batch call fails. A chunk that still fails to embed yields a nil
// vector; the caller drops it. Cancellation propagates.
func embedBatch(ctx context.Context, embedder embed.Provider, batch []chunker.Chunk) ([][]float32, error) {
	log := clog.FromContext(ctx)

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	vectors = make([][]float32, len(batch))
	for i, c := range batch {
		v, err := embedder.Embed(ctx, texts[i])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("dropping chunk after embedding failure", "chunk", c.ID, "error", err)
			continue
		}
		vectors[i] = v
	}
	return vectors, nil
}

// sampleForSummary orders chunks for the summary prompt: repository
// root files first, then recognizable entry points, then everything
// else in file-traversal order. Deterministic for a given chunk set so
// summaries are reproducible.
func sampleForSummary(chunks []chunker.Chunk, order map[string]int) []chunker.Chunk {
	sampled := make([]chunker.Chunk, len(chunks))
	copy(sampled, chunks)
	sort.SliceStable(sampled, func(i, j int) bool {
		pi, pj := summaryPriority(sampled[i].Source), summaryPriority(sampled[j].Source)
		if pi != pj {
			return pi < pj
		}
		return order[sampled[i].ID] < order[sampled[j].ID]
	})
	return sampled
}

// summaryPriority ranks a source path: 0 for root-level files, 1 for
// entry-point names anywhere in the tree, 2 otherwise. Issue chunks
// rank last.
func summaryPriority(source string) int {
	if strings.HasPrefix(source, "issue-") {
		return 3
	}
	base := strings.ToLower(source)
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	} else {
		return 0
	}
	for _, name := range entryPointNames {
		if base == name || strings.HasPrefix(base, name+".") {
			return 1
		}
	}
	return 2
}

var entryPointNames = []string{
	"readme", "main", "setup", "config", "manifest",
	"dockerfile", "makefile", "package", "go", "requirements",
	"pyproject", "cargo", "pom",
}

// summarize generates the repository summary. Summary failure does not
// abort ingestion: the session publishes with an empty summary and the
// failure is logged.
func (e *Engine) summarize(ctx context.Context, backend llm.Backend, sampled []chunker.Chunk) string {
	log := clog.FromContext(ctx)
	payload := prompt.New(backend.Budget()).SummaryPrompt(sampled)

	start := time.Now()
	summary, err := backend.Summarize(ctx, payload)
	if e.metrics != nil {
		e.metrics.GenerationSeconds.WithLabelValues(backend.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.GenerationTotal.WithLabelValues(backend.Name(), "failure").Inc()
		}
		log.Warn("summary generation failed, publishing without summary", "backend", backend.Name(), "error", err)
		return ""
	}
	if e.metrics != nil {
		e.metrics.GenerationTotal.WithLabelValues(backend.Name(), "success").Inc()
	}
	return summary
}

// checkBijection verifies chunk table and index cover exactly the same
// chunk IDs after ingestion.
func checkBijection(table map[string]chunker.Chunk, idx index.Index) error {
	if idx.Size() != len(table) {
		return fmt.Errorf("index holds %d vectors for %d chunks", idx.Size(), len(table))
	}
	return nil
}

// Ask answers a question about a published session, optionally grounded
// in one of its issue threads.
func (e *Engine) Ask(ctx context.Context, key string, issueNumber int, question string) (string, error) {
	sess, err := e.store.Get(key)
	if err != nil {
		return "", err
	}
	log := clog.FromContext(ctx).With("session", key)

	var issue *fetch.Issue
	if issueNumber > 0 {
		for i := range sess.Issues {
			if sess.Issues[i].Number == issueNumber {
				issue = &sess.Issues[i]
				break
			}
		}
		if issue == nil {
			return "", fmt.Errorf("issue %d: %w", issueNumber, session.ErrNotFound)
		}
	}

	start := time.Now()
	retriever := retrieve.New(e.config.Retrieval)
	scored, err := retriever.Retrieve(ctx, sess, question)
	if err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}

	payload := prompt.New(sess.Backend.Budget()).AnswerPrompt(issue, scored, question)

	genCtx, span := observability.StartGenerationSpan(ctx, sess.Backend.Name(), "answer")
	defer span.End()

	genStart := time.Now()
	answer, err := sess.Backend.Answer(genCtx, payload)
	if e.metrics != nil {
		e.metrics.GenerationSeconds.WithLabelValues(sess.Backend.Name()).Observe(time.Since(genStart).Seconds())
	}
	if err != nil {
		observability.RecordError(span, err)
		if e.metrics != nil {
			e.metrics.GenerationTotal.WithLabelValues(sess.Backend.Name(), "failure").Inc()
		}
		return "", err
	}
	if e.metrics != nil {
		e.metrics.GenerationTotal.WithLabelValues(sess.Backend.Name(), "success").Inc()
	}
	log.Info("answered question", "chunks", len(scored), "backend", sess.Backend.Name())
	return answer, nil
}

// Cleanup deletes a session and releases its resources.
func (e *Engine) Cleanup(ctx context.Context, key string) error {
	err := e.store.Delete(key)
	if err == nil && e.metrics != nil {
		e.metrics.SessionsActive.Set(float64(len(e.store.Keys())))
	}
	return err
}
