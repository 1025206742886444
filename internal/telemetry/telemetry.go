package telemetry

import (
	"strconv"

	"asahi/internal/domain"
)

// Telemetry is the orchestrator-facing recording surface. Every Record
// call updates both the Prometheus collectors and the aggregator so
// scrape output and analytics never disagree.
type Telemetry struct {
	Metrics    *Metrics
	Aggregator *Aggregator
}

// New wires a metrics set to an aggregator.
func New(metrics *Metrics, agg *Aggregator) *Telemetry {
	return &Telemetry{Metrics: metrics, Aggregator: agg}
}

// RecordInference records one completed request. savings is the USD
// avoided relative to paying full price (cache hits, cheaper routing).
func (t *Telemetry) RecordInference(ev domain.InferenceEvent, savings float64) {
	t.Metrics.RequestsTotal.Inc()
	t.Metrics.CostTotal.Add(ev.CostUSD)
	if savings > 0 {
		t.Metrics.SavingsTotal.Add(savings)
	}
	t.Metrics.LatencyMs.Observe(ev.LatencyMs)
	t.Metrics.TokenCount.Observe(float64(ev.TotalTokens))
	if ev.QualityScore > 0 {
		t.Metrics.QualityScore.WithLabelValues(ev.Model).Set(ev.QualityScore)
	}

	t.Aggregator.RecordEvent(ev)
}

// RecordCache records a lookup outcome and refreshes the tier's
// rolling hit-rate gauge.
func (t *Telemetry) RecordCache(tier domain.CacheTier, hit bool) {
	if hit {
		t.Metrics.CacheHits.WithLabelValues(string(tier)).Inc()
	} else {
		t.Metrics.CacheMisses.WithLabelValues(string(tier)).Inc()
	}
	t.Aggregator.RecordCache(tier, hit)

	if counts, ok := t.Aggregator.CacheStats()[tier]; ok {
		t.Metrics.CacheHitRate.WithLabelValues(string(tier)).Set(counts.HitRate())
	}
}

// RecordRouting records a fresh routing decision.
func (t *Telemetry) RecordRouting(d domain.RoutingDecision) {
	t.Metrics.RoutingDecisions.WithLabelValues(d.Model, strconv.FormatBool(d.FallbackUsed)).Inc()
	t.Aggregator.RecordRouting(d.Model, d.FallbackUsed)
}

// RecordBatch observes a dispatched batch.
func (t *Telemetry) RecordBatch(size int) {
	t.Metrics.BatchSize.Observe(float64(size))
	t.Aggregator.RecordBatch(size)
}

// RecordError tallies a failure by kind and component.
func (t *Telemetry) RecordError(kind domain.ErrorKind, component string) {
	t.Metrics.ErrorsTotal.WithLabelValues(string(kind), component).Inc()
	t.Aggregator.RecordError(string(kind), component)
}
