package telemetry

import (
	"sync"
	"time"

	"asahi/internal/domain"
)

// maxObservations bounds each sample list so a long-running gateway
// cannot grow without limit.
const maxObservations = 4096

// TierCounts is a cache hit/miss tally for one tier.
type TierCounts struct {
	Hits   int64
	Misses int64
}

// HitRate is hits / (hits + misses), 0 when empty.
func (c TierCounts) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// ErrorKey labels an error tally.
type ErrorKey struct {
	Type      string
	Component string
}

// RoutingKey labels a routing-decision tally.
type RoutingKey struct {
	Model    string
	Fallback bool
}

// sample is a bounded FIFO of float64 observations.
type sample struct {
	values []float64
}

func (s *sample) add(v float64) {
	s.values = append(s.values, v)
	if len(s.values) > maxObservations {
		s.values = s.values[len(s.values)-maxObservations:]
	}
}

func (s *sample) snapshot() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// Aggregator is the rolling in-memory record of gateway activity.
// Analytics reads it through the typed accessors instead of reaching
// into component internals. One mutex guards everything; callers must
// not hold it across I/O.
type Aggregator struct {
	mu sync.Mutex

	events    []domain.InferenceEvent
	maxEvents int
	retention time.Duration

	latencies  sample
	tokens     sample
	batchSizes sample

	quality map[string]*sample // by model

	cache      map[domain.CacheTier]*TierCounts
	errors     map[ErrorKey]int64
	errorTimes []time.Time
	routing    map[RoutingKey]int64

	now func() time.Time
}

// NewAggregator builds an aggregator retaining up to maxEvents events
// for at most retention.
func NewAggregator(maxEvents int, retention time.Duration) *Aggregator {
	if maxEvents <= 0 {
		maxEvents = 100000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Aggregator{
		maxEvents: maxEvents,
		retention: retention,
		quality:   make(map[string]*sample),
		cache:     make(map[domain.CacheTier]*TierCounts),
		errors:    make(map[ErrorKey]int64),
		routing:   make(map[RoutingKey]int64),
		now:       time.Now,
	}
}

// RecordEvent appends a completed request to the rolling log and its
// observations.
func (a *Aggregator) RecordEvent(ev domain.InferenceEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}
	a.events = append(a.events, ev)
	if len(a.events) > a.maxEvents {
		a.events = a.events[len(a.events)-a.maxEvents:]
	}

	a.latencies.add(ev.LatencyMs)
	a.tokens.add(float64(ev.TotalTokens))
	if ev.QualityScore > 0 {
		q, ok := a.quality[ev.Model]
		if !ok {
			q = &sample{}
			a.quality[ev.Model] = q
		}
		q.add(ev.QualityScore)
	}
}

// RecordCache tallies a lookup against a tier.
func (a *Aggregator) RecordCache(tier domain.CacheTier, hit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.cache[tier]
	if !ok {
		c = &TierCounts{}
		a.cache[tier] = c
	}
	if hit {
		c.Hits++
	} else {
		c.Misses++
	}
}

// RecordBatch observes a dispatched batch size.
func (a *Aggregator) RecordBatch(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batchSizes.add(float64(size))
}

// RecordRouting tallies a routing decision by served model and
// whether the fallback path was taken.
func (a *Aggregator) RecordRouting(model string, fallback bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routing[RoutingKey{Model: model, Fallback: fallback}]++
}

// RoutingCounts returns a copy of the routing-decision tallies.
func (a *Aggregator) RoutingCounts() map[RoutingKey]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[RoutingKey]int64, len(a.routing))
	for k, v := range a.routing {
		out[k] = v
	}
	return out
}

// RecordError tallies an error by type and component.
func (a *Aggregator) RecordError(errType, component string) {
	a.RecordErrorAt(errType, component, a.now())
}

// RecordErrorAt tallies an error observed at a specific time.
func (a *Aggregator) RecordErrorAt(errType, component string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors[ErrorKey{Type: errType, Component: component}]++
	a.errorTimes = append(a.errorTimes, at)
	if len(a.errorTimes) > maxObservations {
		a.errorTimes = a.errorTimes[len(a.errorTimes)-maxObservations:]
	}
}

// ErrorsSince counts errors recorded at or after since.
func (a *Aggregator) ErrorsSince(since time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, at := range a.errorTimes {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

// Events returns a copy of the events at or after since. A zero since
// returns everything retained.
func (a *Aggregator) Events(since time.Time) []domain.InferenceEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.InferenceEvent, 0, len(a.events))
	for _, ev := range a.events {
		if since.IsZero() || !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// LatencySample returns the retained latency observations.
func (a *Aggregator) LatencySample() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latencies.snapshot()
}

// BatchSizeSample returns the retained batch-size observations.
func (a *Aggregator) BatchSizeSample() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batchSizes.snapshot()
}

// QualitySample returns the retained quality observations for a model.
func (a *Aggregator) QualitySample(model string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if q, ok := a.quality[model]; ok {
		return q.snapshot()
	}
	return nil
}

// CacheStats returns a copy of the per-tier hit/miss tallies.
func (a *Aggregator) CacheStats() map[domain.CacheTier]TierCounts {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[domain.CacheTier]TierCounts, len(a.cache))
	for tier, c := range a.cache {
		out[tier] = *c
	}
	return out
}

// ErrorCounts returns a copy of the error tallies.
func (a *Aggregator) ErrorCounts() map[ErrorKey]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[ErrorKey]int64, len(a.errors))
	for k, v := range a.errors {
		out[k] = v
	}
	return out
}

// Prune drops events older than the retention horizon and returns how
// many were removed.
func (a *Aggregator) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.retention)
	idx := 0
	for idx < len(a.events) && a.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		a.events = append([]domain.InferenceEvent{}, a.events[idx:]...)
	}
	return idx
}
