// Package telemetry provides the Prometheus metrics surface and the
// in-memory event aggregator that feeds analytics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets is the wire-contract histogram layout in ms.
var LatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Metrics holds the gateway's Prometheus collectors. The metric names
// are a stable wire contract; renaming one breaks dashboards.
type Metrics struct {
	RequestsTotal prometheus.Counter
	CostTotal     prometheus.Counter
	SavingsTotal  prometheus.Counter

	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	CacheHitRate *prometheus.GaugeVec

	ErrorsTotal      *prometheus.CounterVec
	RoutingDecisions *prometheus.CounterVec

	LatencyMs  prometheus.Histogram
	TokenCount prometheus.Histogram
	BatchSize  prometheus.Histogram

	QualityScore *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "asahi_requests_total",
			Help: "Total number of inference requests",
		}),

		CostTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "asahi_cost_dollars_total",
			Help: "Total inference spend in USD",
		}),

		SavingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "asahi_savings_dollars_total",
			Help: "Total USD saved by cache hits and routing",
		}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asahi_cache_hits_total",
			Help: "Cache hits by tier",
		}, []string{"tier"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asahi_cache_misses_total",
			Help: "Cache misses by tier",
		}, []string{"tier"}),

		CacheHitRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asahi_cache_hit_rate",
			Help: "Rolling cache hit rate by tier",
		}, []string{"tier"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asahi_errors_total",
			Help: "Errors by type and component",
		}, []string{"error_type", "component"}),

		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asahi_routing_decisions_total",
			Help: "Routing decisions by model and fallback use",
		}, []string{"model", "fallback_used"}),

		LatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asahi_latency_ms",
			Help:    "End-to-end request latency in milliseconds",
			Buckets: LatencyBuckets,
		}),

		TokenCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asahi_token_count",
			Help:    "Total tokens per request",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12),
		}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asahi_batch_size",
			Help:    "Dispatched batch sizes",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
		}),

		QualityScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asahi_quality_score",
			Help: "Quality score of the model serving requests",
		}, []string{"model"}),
	}
}

// Handler returns the text exposition endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }
