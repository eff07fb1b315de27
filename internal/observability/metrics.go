package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the Prometheus collectors for the ingestion and
// query pipelines. One instance is shared process-wide.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	IngestsTotal      *prometheus.CounterVec
	ChunksIndexed     prometheus.Counter
	EmbedFailures     prometheus.Counter
	ChunksDropped     prometheus.Counter
	RetrievalDuration prometheus.Histogram
	GenerationTotal   *prometheus.CounterVec
	GenerationSeconds *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry so tests can
// instantiate it more than once.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "desolve_sessions_active",
			Help: "Number of published sessions currently held in memory.",
		}),
		IngestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "desolve_ingests_total",
			Help: "Repository ingestions by outcome.",
		}, []string{"outcome"}),
		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "desolve_chunks_indexed_total",
			Help: "Chunks successfully embedded and inserted into an index.",
		}),
		EmbedFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "desolve_embed_failures_total",
			Help: "Embedding calls that failed after retries.",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "desolve_chunks_dropped_total",
			Help: "Chunks dropped from ingestion because embedding failed.",
		}),
		RetrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "desolve_retrieval_duration_seconds",
			Help:    "Latency of similarity retrieval including query embedding.",
			Buckets: prometheus.DefBuckets,
		}),
		GenerationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "desolve_generation_requests_total",
			Help: "Generation backend calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		GenerationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "desolve_generation_duration_seconds",
			Help:    "Latency of generation backend calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"backend"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
