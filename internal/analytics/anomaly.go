package analytics

import (
	"log/slog"
	"time"

	"asahi/internal/domain"
)

// AnomalyType names the signal that fired.
type AnomalyType string

const (
	AnomalyCostSpike        AnomalyType = "cost_spike"
	AnomalyLatencySpike     AnomalyType = "latency_spike"
	AnomalyErrorRate        AnomalyType = "error_rate"
	AnomalyCacheDegradation AnomalyType = "cache_degradation"
	AnomalyQualityDrop      AnomalyType = "quality_drop"
)

// Anomaly is one detected deviation from the trailing baseline.
type Anomaly struct {
	Type     AnomalyType
	Current  float64
	Expected float64
	Ratio    float64 // Current / Expected
	Detail   string
}

// recentWindow is the interval each check compares against the
// baseline. The baseline is the rest of the retention period, so the
// window under test never inflates its own expectation.
const recentWindow = time.Hour

const baselineWindow = 24 * time.Hour

// windowStats summarizes one interval of the event log.
type windowStats struct {
	requests   int
	totalCost  float64
	totalLat   float64
	cacheHits  int
	qualitySum float64
	qualityN   int
}

func (w windowStats) avgCost() float64 {
	if w.requests == 0 {
		return 0
	}
	return w.totalCost / float64(w.requests)
}

func (w windowStats) avgLatency() float64 {
	if w.requests == 0 {
		return 0
	}
	return w.totalLat / float64(w.requests)
}

func (w windowStats) hitRate() float64 {
	if w.requests == 0 {
		return 0
	}
	return float64(w.cacheHits) / float64(w.requests)
}

func (w windowStats) avgQuality() float64 {
	if w.qualityN == 0 {
		return 0
	}
	return w.qualitySum / float64(w.qualityN)
}

// windows splits the retained events into the recent interval and the
// preceding baseline.
func (e *Engine) windows() (recent, baseline windowStats) {
	now := e.now()
	recentStart := now.Add(-recentWindow)
	baselineStart := now.Add(-baselineWindow)

	for _, ev := range e.agg.Events(baselineStart) {
		w := &baseline
		if !ev.Timestamp.Before(recentStart) {
			w = &recent
		}
		w.requests++
		w.totalCost += ev.CostUSD
		w.totalLat += ev.LatencyMs
		if ev.CacheTier != domain.TierNone && ev.CacheTier != "" {
			w.cacheHits++
		}
		if ev.QualityScore > 0 {
			w.qualitySum += ev.QualityScore
			w.qualityN++
		}
	}
	return recent, baseline
}

// CheckAll runs every detector and returns the anomalies that fired.
func (e *Engine) CheckAll() []Anomaly {
	var out []Anomaly
	checks := []func() (Anomaly, bool){
		e.CheckCost,
		e.CheckLatency,
		e.CheckErrorRate,
		e.CheckCacheDegradation,
		e.CheckQualityDrop,
	}
	for _, check := range checks {
		if a, ok := check(); ok {
			slog.Warn("anomaly detected",
				"type", a.Type,
				"current", a.Current,
				"expected", a.Expected,
				"ratio", a.Ratio)
			out = append(out, a)
		}
	}
	return out
}

// CheckCost fires when average per-request cost in the recent window
// exceeds the baseline by the configured multiplier.
func (e *Engine) CheckCost() (Anomaly, bool) {
	recent, baseline := e.windows()
	if baseline.requests == 0 || recent.requests == 0 {
		return Anomaly{}, false
	}
	current, expected := recent.avgCost(), baseline.avgCost()
	if expected <= 0 || current < expected*e.cfg.CostSpikeMultiplier {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyCostSpike, Current: current, Expected: expected,
		Ratio:  current / expected,
		Detail: "average request cost exceeds trailing baseline",
	}, true
}

// CheckLatency fires when average latency in the recent window exceeds
// the baseline by the configured multiplier.
func (e *Engine) CheckLatency() (Anomaly, bool) {
	recent, baseline := e.windows()
	if baseline.requests == 0 || recent.requests == 0 {
		return Anomaly{}, false
	}
	current, expected := recent.avgLatency(), baseline.avgLatency()
	if expected <= 0 || current < expected*e.cfg.LatencySpikeMultiplier {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyLatencySpike, Current: current, Expected: expected,
		Ratio:  current / expected,
		Detail: "average latency exceeds trailing baseline",
	}, true
}

// CheckErrorRate fires when the hourly error count in the recent
// window exceeds the baseline's hourly rate by the multiplier.
func (e *Engine) CheckErrorRate() (Anomaly, bool) {
	now := e.now()
	recentErrs := float64(e.agg.ErrorsSince(now.Add(-recentWindow)))
	totalErrs := float64(e.agg.ErrorsSince(now.Add(-baselineWindow)))
	baselineErrs := totalErrs - recentErrs

	baselineHours := (baselineWindow - recentWindow).Hours()
	expected := baselineErrs / baselineHours
	if expected <= 0 || recentErrs < expected*e.cfg.ErrorRateMultiplier {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyErrorRate, Current: recentErrs, Expected: expected,
		Ratio:  recentErrs / expected,
		Detail: "hourly error count exceeds trailing baseline rate",
	}, true
}

// CheckCacheDegradation fires when the recent cache hit fraction falls
// below the baseline by more than the configured fraction.
func (e *Engine) CheckCacheDegradation() (Anomaly, bool) {
	recent, baseline := e.windows()
	if baseline.requests == 0 || recent.requests == 0 {
		return Anomaly{}, false
	}
	current, expected := recent.hitRate(), baseline.hitRate()
	if expected <= 0 || expected-current < e.cfg.CacheDegradationFraction {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyCacheDegradation, Current: current, Expected: expected,
		Ratio:  current / expected,
		Detail: "cache hit rate fell below trailing baseline",
	}, true
}

// CheckQualityDrop fires when the average served quality score drops
// below the baseline by more than the configured fraction.
func (e *Engine) CheckQualityDrop() (Anomaly, bool) {
	recent, baseline := e.windows()
	if baseline.qualityN == 0 || recent.qualityN == 0 {
		return Anomaly{}, false
	}
	current, expected := recent.avgQuality(), baseline.avgQuality()
	if expected <= 0 || (expected-current)/expected < e.cfg.QualityDropFraction {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyQualityDrop, Current: current, Expected: expected,
		Ratio:  current / expected,
		Detail: "average served quality fell below trailing baseline",
	}, true
}
