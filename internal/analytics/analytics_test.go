package analytics

import (
	"math"
	"testing"
	"time"

	"asahi/internal/domain"
	"asahi/internal/telemetry"
)

func testConfig() Config {
	return Config{
		BaselineInputRate:        0.03,
		BaselineOutputRate:       0.06,
		CostSpikeMultiplier:      2,
		LatencySpikeMultiplier:   2,
		ErrorRateMultiplier:      3,
		CacheDegradationFraction: 0.2,
		QualityDropFraction:      0.1,
		EMASpanDays:              7,
		ZScore:                   1.96,
	}
}

func newTestEngine(t *testing.T) (*Engine, *telemetry.Aggregator, time.Time) {
	t.Helper()
	agg := telemetry.NewAggregator(10000, 30*24*time.Hour)
	eng := New(agg, testConfig())
	now := time.Now()
	eng.now = func() time.Time { return now }
	return eng, agg, now
}

func seed(agg *telemetry.Aggregator, model string, task domain.TaskType, tier domain.CacheTier,
	cost, latency float64, in, out int, at time.Time) {
	agg.RecordEvent(domain.InferenceEvent{
		RequestID:    "r",
		Timestamp:    at,
		TaskType:     task,
		Model:        model,
		CacheTier:    tier,
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		LatencyMs:    latency,
		CostUSD:      cost,
	})
}

func TestCostBreakdownByModel(t *testing.T) {
	eng, agg, now := newTestEngine(t)

	for i := 0; i < 3; i++ {
		seed(agg, "gpt-4", domain.TaskGeneral, domain.TierNone, 0.10, 800, 500, 500, now.Add(-time.Hour))
	}
	for i := 0; i < 5; i++ {
		seed(agg, "gpt-4o-mini", domain.TaskGeneral, domain.TierNone, 0.01, 300, 500, 500, now.Add(-time.Hour))
	}

	groups := eng.CostBreakdown(24*time.Hour, ByModel)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Key != "gpt-4" {
		t.Errorf("top driver = %q, want gpt-4", groups[0].Key)
	}
	if math.Abs(groups[0].TotalCost-0.30) > 1e-9 {
		t.Errorf("gpt-4 cost = %f", groups[0].TotalCost)
	}
	if groups[1].Requests != 5 {
		t.Errorf("mini requests = %d", groups[1].Requests)
	}
}

func TestCostBreakdownByTaskExcludesOldEvents(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	seed(agg, "m", domain.TaskCoding, domain.TierNone, 0.02, 300, 100, 100, now.Add(-25*time.Hour))
	seed(agg, "m", domain.TaskCoding, domain.TierNone, 0.02, 300, 100, 100, now.Add(-time.Hour))

	groups := eng.CostBreakdown(24*time.Hour, ByTaskType)
	if len(groups) != 1 || groups[0].Requests != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Key != "coding" {
		t.Errorf("key = %q", groups[0].Key)
	}
}

func TestTrendsBucketsAggregate(t *testing.T) {
	eng, agg, now := newTestEngine(t)

	seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 100, 50, 50, now.Add(-5*time.Hour))
	seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.02, 200, 50, 50, now.Add(-5*time.Hour))
	seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.03, 300, 50, 50, now.Add(-30*time.Minute))

	buckets := eng.Trends(6*time.Hour, 6)
	if len(buckets) != 6 {
		t.Fatalf("buckets = %d", len(buckets))
	}
	if buckets[1].Requests != 2 {
		t.Errorf("second bucket requests = %d, want 2", buckets[1].Requests)
	}
	if buckets[1].AvgLatencyMs != 150 {
		t.Errorf("second bucket avg latency = %f, want 150", buckets[1].AvgLatencyMs)
	}
	if buckets[5].Requests != 1 || math.Abs(buckets[5].TotalCost-0.03) > 1e-9 {
		t.Errorf("last bucket = %+v", buckets[5])
	}
}

func TestBaselineComparison(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	seed(agg, "gpt-4o-mini", domain.TaskGeneral, domain.TierNone, 0.005, 300, 1000, 500, now.Add(-time.Hour))

	cmp := eng.Baseline(24 * time.Hour)
	// 1.0 * 0.03 + 0.5 * 0.06 = 0.06 at baseline rates.
	if math.Abs(cmp.BaselineCost-0.06) > 1e-9 {
		t.Errorf("baseline = %f, want 0.06", cmp.BaselineCost)
	}
	if math.Abs(cmp.Savings-0.055) > 1e-9 {
		t.Errorf("savings = %f, want 0.055", cmp.Savings)
	}
	if cmp.SavingsPct < 91 || cmp.SavingsPct > 92 {
		t.Errorf("savings pct = %f", cmp.SavingsPct)
	}
}

func TestTopCostDriversLimit(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	for i, model := range []string{"a", "b", "c", "d"} {
		seed(agg, model, domain.TaskGeneral, domain.TierNone, float64(i+1)*0.01, 100, 50, 50, now.Add(-time.Hour))
	}
	drivers := eng.TopCostDrivers(24*time.Hour, 2)
	if len(drivers) != 2 {
		t.Fatalf("drivers = %d", len(drivers))
	}
	if drivers[0].Key != "d" || drivers[1].Key != "c" {
		t.Errorf("order = %q, %q", drivers[0].Key, drivers[1].Key)
	}
}

func TestCachePerformance(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	agg.RecordCache(domain.TierExact, true)
	agg.RecordCache(domain.TierExact, false)
	seed(agg, "m", domain.TaskGeneral, domain.TierExact, 0, 5, 1000, 1000, now.Add(-time.Hour))

	perf := eng.CachePerformance(24 * time.Hour)
	if len(perf) != 1 {
		t.Fatalf("tiers = %d", len(perf))
	}
	p := perf[0]
	if p.Tier != domain.TierExact || p.Hits != 1 || p.Misses != 1 {
		t.Errorf("perf = %+v", p)
	}
	if p.Served != 1 {
		t.Errorf("served = %d", p.Served)
	}
	// 1.0 * 0.03 + 1.0 * 0.06 at baseline rates.
	if math.Abs(p.CostSaved-0.09) > 1e-9 {
		t.Errorf("cost saved = %f", p.CostSaved)
	}
}

func TestLatencyPercentiles(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	for i := 1; i <= 100; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, float64(i), 50, 50, now)
	}

	p := eng.LatencyPercentiles()
	if p.P50 != 51 {
		t.Errorf("p50 = %f, want 51", p.P50)
	}
	if p.P95 != 96 {
		t.Errorf("p95 = %f, want 96", p.P95)
	}
	if p.P99 != 100 {
		t.Errorf("p99 = %f, want 100", p.P99)
	}
}

func TestLatencyPercentilesEmpty(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if p := eng.LatencyPercentiles(); p.P50 != 0 || p.P99 != 0 {
		t.Errorf("empty percentiles = %+v", p)
	}
}

// A fivefold jump in per-request cost over the trailing baseline must
// surface as a cost spike with the matching ratio.
func TestCostSpikeDetection(t *testing.T) {
	eng, agg, now := newTestEngine(t)

	for i := 0; i < 30; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 200, 100, 100, now.Add(-3*time.Hour))
	}
	for i := 0; i < 10; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.05, 200, 100, 100, now.Add(-30*time.Minute))
	}

	a, ok := eng.CheckCost()
	if !ok {
		t.Fatal("cost spike not detected")
	}
	if a.Type != AnomalyCostSpike {
		t.Errorf("type = %q", a.Type)
	}
	if math.Abs(a.Ratio-5) > 0.01 {
		t.Errorf("ratio = %f, want ~5", a.Ratio)
	}
	if math.Abs(a.Current-0.05) > 1e-9 || math.Abs(a.Expected-0.01) > 1e-9 {
		t.Errorf("current/expected = %f/%f", a.Current, a.Expected)
	}
}

func TestNoCostSpikeWhenStable(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	for i := 0; i < 20; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 200, 100, 100, now.Add(-3*time.Hour))
	}
	for i := 0; i < 10; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.012, 200, 100, 100, now.Add(-30*time.Minute))
	}
	if _, ok := eng.CheckCost(); ok {
		t.Error("stable traffic flagged as cost spike")
	}
	if got := eng.CheckAll(); len(got) != 0 {
		t.Errorf("anomalies = %+v", got)
	}
}

func TestLatencySpikeDetection(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	for i := 0; i < 20; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 100, 100, 100, now.Add(-3*time.Hour))
	}
	for i := 0; i < 5; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 400, 100, 100, now.Add(-10*time.Minute))
	}

	a, ok := eng.CheckLatency()
	if !ok {
		t.Fatal("latency spike not detected")
	}
	if math.Abs(a.Ratio-4) > 0.01 {
		t.Errorf("ratio = %f, want ~4", a.Ratio)
	}
}

func TestErrorRateDetection(t *testing.T) {
	eng, agg, now := newTestEngine(t)

	// One error per hour across the baseline, five in the last hour.
	for i := 2; i < 25; i++ {
		agg.RecordErrorAt("provider", "orchestrator", now.Add(-time.Duration(i)*time.Hour+30*time.Minute))
	}
	for i := 0; i < 5; i++ {
		agg.RecordErrorAt("provider", "orchestrator", now.Add(-10*time.Minute))
	}

	a, ok := eng.CheckErrorRate()
	if !ok {
		t.Fatal("error rate anomaly not detected")
	}
	if a.Current != 5 {
		t.Errorf("current = %f", a.Current)
	}
	if a.Ratio < 4.9 || a.Ratio > 5.1 {
		t.Errorf("ratio = %f, want ~5", a.Ratio)
	}
}

func TestErrorRateQuietBaseline(t *testing.T) {
	eng, agg, now := newTestEngine(t)
	agg.RecordErrorAt("provider", "orchestrator", now.Add(-5*time.Minute))
	if _, ok := eng.CheckErrorRate(); ok {
		t.Error("errors with no baseline should not fire")
	}
}

func TestCacheDegradationDetection(t *testing.T) {
	eng, agg, now := newTestEngine(t)

	// Baseline serves half from cache, the last hour serves none.
	for i := 0; i < 10; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierExact, 0, 5, 100, 100, now.Add(-3*time.Hour))
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 200, 100, 100, now.Add(-3*time.Hour))
	}
	for i := 0; i < 10; i++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 0.01, 200, 100, 100, now.Add(-10*time.Minute))
	}

	a, ok := eng.CheckCacheDegradation()
	if !ok {
		t.Fatal("cache degradation not detected")
	}
	if a.Current != 0 || a.Expected != 0.5 {
		t.Errorf("current/expected = %f/%f", a.Current, a.Expected)
	}
}

func TestQualityDropDetection(t *testing.T) {
	eng, agg, now := newTestEngine(t)

	for i := 0; i < 10; i++ {
		agg.RecordEvent(domain.InferenceEvent{
			Timestamp: now.Add(-3 * time.Hour), Model: "m", CostUSD: 0.01,
			LatencyMs: 100, QualityScore: 4.5,
		})
	}
	for i := 0; i < 5; i++ {
		agg.RecordEvent(domain.InferenceEvent{
			Timestamp: now.Add(-10 * time.Minute), Model: "m", CostUSD: 0.01,
			LatencyMs: 100, QualityScore: 3.5,
		})
	}

	a, ok := eng.CheckQualityDrop()
	if !ok {
		t.Fatal("quality drop not detected")
	}
	if a.Expected != 4.5 || a.Current != 3.5 {
		t.Errorf("current/expected = %f/%f", a.Current, a.Expected)
	}
}

func TestForecastEMAFlatSeries(t *testing.T) {
	eng, agg, _ := newTestEngine(t)
	base := time.Now()
	for d := 1; d <= 7; d++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, 1.0, 100, 100, 100, base.Add(-time.Duration(d)*24*time.Hour))
	}

	f := eng.ForecastCost(3)
	if f.Method != MethodEMA {
		t.Errorf("method = %q", f.Method)
	}
	if math.Abs(f.ProjectedCost-3.0) > 1e-9 {
		t.Errorf("projected = %f, want 3.0", f.ProjectedCost)
	}
	if f.LowerBound > f.ProjectedCost || f.UpperBound < f.ProjectedCost {
		t.Errorf("interval [%f, %f] excludes projection", f.LowerBound, f.UpperBound)
	}
}

func TestForecastOLSLinearTrend(t *testing.T) {
	eng, agg, _ := newTestEngine(t)
	base := time.Now()
	// Spend grows by one dollar per day for ten days.
	for d := 0; d < 10; d++ {
		seed(agg, "m", domain.TaskGeneral, domain.TierNone, float64(10-d), 100, 100, 100,
			base.Add(-time.Duration(d)*24*time.Hour))
	}

	f := eng.ForecastCost(30)
	if f.Method != MethodOLS {
		t.Errorf("method = %q", f.Method)
	}
	// Perfect fit: sum over days 11..40 of the trend line.
	if math.Abs(f.ProjectedCost-765.0) > 1e-6 {
		t.Errorf("projected = %f, want 765", f.ProjectedCost)
	}
	if f.UpperBound < f.ProjectedCost || f.LowerBound > f.ProjectedCost {
		t.Errorf("interval [%f, %f] excludes projection", f.LowerBound, f.UpperBound)
	}
}

func TestForecastNoData(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	f := eng.ForecastCost(7)
	if f.ProjectedCost != 0 || f.UpperBound != 0 {
		t.Errorf("empty forecast = %+v", f)
	}
}
