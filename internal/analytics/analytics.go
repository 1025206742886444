// Package analytics turns the telemetry aggregator's rolling record
// into cost reports, anomaly signals, and spend forecasts. It reads
// only the aggregator's typed accessors.
package analytics

import (
	"sort"
	"time"

	"asahi/internal/domain"
	"asahi/internal/telemetry"
)

// Config carries the tracking thresholds from the configuration.
type Config struct {
	BaselineInputRate        float64 // USD per 1K input tokens for the counterfactual
	BaselineOutputRate       float64
	CostSpikeMultiplier      float64
	LatencySpikeMultiplier   float64
	ErrorRateMultiplier      float64
	CacheDegradationFraction float64
	QualityDropFraction      float64
	EMASpanDays              int
	ZScore                   float64
}

// Engine computes reports over the aggregator.
type Engine struct {
	agg *telemetry.Aggregator
	cfg Config

	now func() time.Time
}

// New builds an analytics engine.
func New(agg *telemetry.Aggregator, cfg Config) *Engine {
	if cfg.EMASpanDays <= 0 {
		cfg.EMASpanDays = 7
	}
	if cfg.ZScore <= 0 {
		cfg.ZScore = 1.96
	}
	return &Engine{agg: agg, cfg: cfg, now: time.Now}
}

// CostGroup is one row of a cost breakdown.
type CostGroup struct {
	Key         string
	Requests    int
	TotalCost   float64
	TotalTokens int
}

// GroupBy selects the breakdown dimension.
type GroupBy string

const (
	ByModel     GroupBy = "model"
	ByTaskType  GroupBy = "task_type"
	ByCacheTier GroupBy = "cache_tier"
	ByTenant    GroupBy = "tenant"
)

// CostBreakdown aggregates cost over the period, grouped by the given
// dimension, sorted by cost descending.
func (e *Engine) CostBreakdown(period time.Duration, by GroupBy) []CostGroup {
	groups := make(map[string]*CostGroup)
	for _, ev := range e.agg.Events(e.now().Add(-period)) {
		key := groupKey(ev, by)
		g, ok := groups[key]
		if !ok {
			g = &CostGroup{Key: key}
			groups[key] = g
		}
		g.Requests++
		g.TotalCost += ev.CostUSD
		g.TotalTokens += ev.TotalTokens
	}

	out := make([]CostGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCost != out[j].TotalCost {
			return out[i].TotalCost > out[j].TotalCost
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func groupKey(ev domain.InferenceEvent, by GroupBy) string {
	switch by {
	case ByTaskType:
		return string(ev.TaskType)
	case ByCacheTier:
		return string(ev.CacheTier)
	case ByTenant:
		if ev.TenantID == "" {
			return "(none)"
		}
		return ev.TenantID
	default:
		return ev.Model
	}
}

// TrendBucket is one slice of a time-series trend.
type TrendBucket struct {
	Start        time.Time
	Requests     int
	TotalCost    float64
	AvgLatencyMs float64
}

// Trends splits the period into buckets and aggregates each.
func (e *Engine) Trends(period time.Duration, buckets int) []TrendBucket {
	if buckets <= 0 {
		buckets = 1
	}
	now := e.now()
	start := now.Add(-period)
	width := period / time.Duration(buckets)

	out := make([]TrendBucket, buckets)
	for i := range out {
		out[i].Start = start.Add(time.Duration(i) * width)
	}

	for _, ev := range e.agg.Events(start) {
		idx := int(ev.Timestamp.Sub(start) / width)
		if idx < 0 {
			continue
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		b := &out[idx]
		b.Requests++
		b.TotalCost += ev.CostUSD
		b.AvgLatencyMs += ev.LatencyMs
	}
	for i := range out {
		if out[i].Requests > 0 {
			out[i].AvgLatencyMs /= float64(out[i].Requests)
		}
	}
	return out
}

// BaselineComparison is the all-premium-model counterfactual.
type BaselineComparison struct {
	ActualCost   float64
	BaselineCost float64
	Savings      float64
	SavingsPct   float64
}

// Baseline prices every request in the period at the configured
// baseline rates and compares against actual spend.
func (e *Engine) Baseline(period time.Duration) BaselineComparison {
	var cmp BaselineComparison
	for _, ev := range e.agg.Events(e.now().Add(-period)) {
		cmp.ActualCost += ev.CostUSD
		cmp.BaselineCost += float64(ev.InputTokens)/1000*e.cfg.BaselineInputRate +
			float64(ev.OutputTokens)/1000*e.cfg.BaselineOutputRate
	}
	cmp.Savings = cmp.BaselineCost - cmp.ActualCost
	if cmp.BaselineCost > 0 {
		cmp.SavingsPct = cmp.Savings / cmp.BaselineCost * 100
	}
	return cmp
}

// TopCostDrivers returns the n most expensive models in the period.
func (e *Engine) TopCostDrivers(period time.Duration, n int) []CostGroup {
	drivers := e.CostBreakdown(period, ByModel)
	if n > 0 && len(drivers) > n {
		drivers = drivers[:n]
	}
	return drivers
}

// TierPerformance is the cache report for one tier.
type TierPerformance struct {
	Tier      domain.CacheTier
	Hits      int64
	Misses    int64
	HitRate   float64
	Served    int // requests answered from this tier in the event log
	CostSaved float64
}

// CachePerformance reports per-tier effectiveness over the period.
// CostSaved prices each served request at the baseline rates, since
// the cached request itself cost nothing to serve.
func (e *Engine) CachePerformance(period time.Duration) []TierPerformance {
	stats := e.agg.CacheStats()
	byTier := make(map[domain.CacheTier]*TierPerformance)
	for tier, counts := range stats {
		byTier[tier] = &TierPerformance{
			Tier: tier, Hits: counts.Hits, Misses: counts.Misses, HitRate: counts.HitRate(),
		}
	}

	for _, ev := range e.agg.Events(e.now().Add(-period)) {
		if ev.CacheTier == domain.TierNone {
			continue
		}
		p, ok := byTier[ev.CacheTier]
		if !ok {
			p = &TierPerformance{Tier: ev.CacheTier}
			byTier[ev.CacheTier] = p
		}
		p.Served++
		p.CostSaved += float64(ev.InputTokens)/1000*e.cfg.BaselineInputRate +
			float64(ev.OutputTokens)/1000*e.cfg.BaselineOutputRate
	}

	out := make([]TierPerformance, 0, len(byTier))
	for _, p := range byTier {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Percentiles is the latency summary.
type Percentiles struct {
	P50, P75, P90, P95, P99 float64
}

// LatencyPercentiles computes the summary by sort-and-index over the
// retained latency sample.
func (e *Engine) LatencyPercentiles() Percentiles {
	values := e.agg.LatencySample()
	if len(values) == 0 {
		return Percentiles{}
	}
	sort.Float64s(values)
	return Percentiles{
		P50: percentile(values, 0.50),
		P75: percentile(values, 0.75),
		P90: percentile(values, 0.90),
		P95: percentile(values, 0.95),
		P99: percentile(values, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
