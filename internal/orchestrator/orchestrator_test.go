package orchestrator

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"asahi/internal/batching"
	"asahi/internal/cache/embedding"
	"asahi/internal/cache/exact"
	"asahi/internal/cache/semantic"
	"asahi/internal/cache/vector"
	"asahi/internal/domain"
	"asahi/internal/provider"
	"asahi/internal/registry"
	"asahi/internal/resilience"
	"asahi/internal/routing"
	"asahi/internal/telemetry"
)

func testProfiles() []domain.ModelProfile {
	return []domain.ModelProfile{
		{
			Name: "gpt-4", Provider: "openai",
			InputCostPer1K: 0.03, OutputCostPer1K: 0.06,
			AvgLatencyMs: 1200, QualityScore: 4.5,
			MaxInputTokens: 8192, MaxOutputTokens: 4096,
			Availability: domain.AvailabilityAvailable,
		},
		{
			Name: "gpt-4o-mini", Provider: "openai",
			InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006,
			AvgLatencyMs: 350, QualityScore: 4.1,
			MaxInputTokens: 128000, MaxOutputTokens: 16384,
			Availability: domain.AvailabilityAvailable,
		},
		{
			Name: "claude-haiku", Provider: "anthropic",
			InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125,
			AvgLatencyMs: 280, QualityScore: 3.8,
			MaxInputTokens: 200000, MaxOutputTokens: 8192,
			Availability: domain.AvailabilityAvailable,
		},
	}
}

// fixedEmbedder returns scripted vectors so similarity is exact.
type fixedEmbedder struct {
	vecs map[string][]float32
}

func (f *fixedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	v := make([]float32, 8)
	v[7] = 1
	return v, nil
}

func unitVec(lead float64) []float32 {
	v := make([]float32, 8)
	v[0] = float32(lead)
	v[1] = float32(math.Sqrt(1 - lead*lead))
	return v
}

type fixture struct {
	orch   *Orchestrator
	tel    *telemetry.Telemetry
	exact  exact.Store
	sem    *semantic.Service
	client *provider.MockClient
}

func newFixture(t *testing.T, embedder semantic.Embedder) *fixture {
	t.Helper()

	reg, err := registry.New(testProfiles())
	if err != nil {
		t.Fatal(err)
	}
	client := provider.NewMockClient(nil)
	tel := telemetry.New(telemetry.NewMetrics(), telemetry.NewAggregator(1000, 24*time.Hour))
	exactStore := exact.NewMemoryStore(time.Hour)

	var sem *semantic.Service
	if embedder != nil {
		sem = semantic.NewService(embedder, vector.NewMemoryStore(),
			semantic.NewAdmissionPolicy(2.0, nil, nil), time.Hour, 5, false)
	}

	orch, err := New(Options{
		Registry:      reg,
		Interpreter:   routing.NewInterpreter("medium", "normal"),
		Router:        routing.NewRouter(reg, 1e-6),
		Client:        client,
		Telemetry:     tel,
		ExactCache:    exactStore,
		SemanticCache: sem,
		Retry: resilience.RetryConfig{
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
			BackoffMax:  time.Millisecond,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{orch: orch, tel: tel, exact: exactStore, sem: sem, client: client}
}

func TestExecuteRoutesToCheapestAdequateModel(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelUsed != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", result.ModelUsed)
	}
	if result.CacheTier != domain.TierNone {
		t.Errorf("tier = %q", result.CacheTier)
	}
	if result.Cost <= 0 {
		t.Errorf("cost = %f, want > 0", result.Cost)
	}
	if result.RequestID == "" || result.Response == "" {
		t.Errorf("result incomplete: %+v", result)
	}

	events := f.tel.Aggregator.Events(time.Time{})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Model != "gpt-4o-mini" || events[0].CostUSD != result.Cost {
		t.Errorf("event = %+v", events[0])
	}
}

func TestExecuteSecondIdenticalPromptHitsExactCache(t *testing.T) {
	f := newFixture(t, nil)
	req := domain.InferenceRequest{Prompt: "Tell me about the history of Kyoto"}

	first, err := f.orch.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if second.CacheTier != domain.TierExact {
		t.Fatalf("tier = %q, want exact", second.CacheTier)
	}
	if second.Cost != 0 {
		t.Errorf("cached cost = %f, want 0", second.Cost)
	}
	if second.Response != first.Response {
		t.Error("cached response differs from original")
	}
	if len(f.client.Calls()) != 1 {
		t.Errorf("provider calls = %d, want 1", len(f.client.Calls()))
	}

	stats := f.tel.Aggregator.CacheStats()[domain.TierExact]
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("exact stats = %+v", stats)
	}
}

func TestExecuteNormalizedVariantHitsExactCache(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
	}); err != nil {
		t.Fatal(err)
	}
	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "  Tell me about   the HISTORY of Kyoto ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.CacheTier != domain.TierExact {
		t.Errorf("tier = %q, want exact", result.CacheTier)
	}
}

func TestExecuteExplicitModelOverride(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
		Model:  "gpt-4",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelUsed != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", result.ModelUsed)
	}
}

func TestExecuteUnknownModelOverrideFails(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
		Model:  "gpt-99",
	})
	if !domain.IsKind(err, domain.ErrModelNotFound) {
		t.Errorf("err = %v, want model_not_found", err)
	}
}

func TestExecuteSemanticHitServesCachedAnswer(t *testing.T) {
	cachedPrompt := "How long do solar panels last on average"
	queryPrompt := "What is the average lifespan of solar panels"
	emb := &fixedEmbedder{vecs: map[string][]float32{
		cachedPrompt: unitVec(1.0),
		queryPrompt:  unitVec(0.9),
	}}
	f := newFixture(t, emb)

	f.sem.Insert(context.Background(), cachedPrompt, "about 25 to 30 years", "gpt-4o-mini",
		0.02, domain.TaskFAQ, "")

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{Prompt: queryPrompt})
	if err != nil {
		t.Fatal(err)
	}
	if result.CacheTier != domain.TierSemantic {
		t.Fatalf("tier = %q, want semantic", result.CacheTier)
	}
	if result.Response != "about 25 to 30 years" {
		t.Errorf("response = %q", result.Response)
	}
	if result.Cost != 0 {
		t.Errorf("cost = %f, want 0", result.Cost)
	}
	if len(f.client.Calls()) != 0 {
		t.Error("provider should not have been called")
	}

	// The hit is promoted to Tier 1 for the next identical prompt.
	key := embedding.Fingerprint(queryPrompt, "")
	if _, ok := f.exact.Get(context.Background(), key); !ok {
		t.Error("semantic hit was not promoted to the exact cache")
	}
}

func TestExecuteValidationRejectsWithoutSideEffects(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name string
		req  domain.InferenceRequest
	}{
		{"empty prompt", domain.InferenceRequest{Prompt: ""}},
		{"whitespace prompt", domain.InferenceRequest{Prompt: "   \t\n"}},
		{"oversized prompt", domain.InferenceRequest{Prompt: strings.Repeat("a", 100001)}},
		{"latency budget too low", domain.InferenceRequest{Prompt: "hello", LatencyBudgetMs: 10}},
		{"latency budget too high", domain.InferenceRequest{Prompt: "hello", LatencyBudgetMs: 60000}},
		{"quality threshold out of range", domain.InferenceRequest{Prompt: "hello", QualityThreshold: 6}},
		{"negative cost budget", domain.InferenceRequest{Prompt: "hello", CostBudget: -1}},
		{"unknown quality preference", domain.InferenceRequest{Prompt: "hello", QualityPreference: "extreme"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.Execute(context.Background(), tc.req)
			if !domain.IsKind(err, domain.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}

	if got := len(f.tel.Aggregator.Events(time.Time{})); got != 0 {
		t.Errorf("rejected requests left %d events", got)
	}
	if got := len(f.tel.Aggregator.CacheStats()); got != 0 {
		t.Errorf("rejected requests touched %d cache tiers", got)
	}
	if got := len(f.client.Calls()); got != 0 {
		t.Errorf("rejected requests made %d provider calls", got)
	}
}

func TestExecuteFallsBackToBestModelOnProviderFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.client.FailModel("gpt-4o-mini", 10)

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelUsed != "gpt-4" {
		t.Errorf("model = %q, want fallback gpt-4", result.ModelUsed)
	}
}

func TestExecuteErrorsWhenAllProvidersFail(t *testing.T) {
	f := newFixture(t, nil)
	f.client.FailModel("gpt-4o-mini", 10)
	f.client.FailModel("gpt-4", 10)

	_, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
	})
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("err = %v, want provider", err)
	}

	counts := f.tel.Aggregator.ErrorCounts()
	if counts[telemetry.ErrorKey{Type: "provider", Component: "orchestrator"}] == 0 {
		t.Error("provider failure was not recorded")
	}
}

func TestExecuteRoutingFallbackWhenConstraintsUnsatisfiable(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:            "Tell me about the history of Kyoto",
		QualityPreference: "max",
		LatencyPreference: "instant",
	})
	if err != nil {
		t.Fatal(err)
	}
	// Nothing satisfies quality 4.5 under 150ms, so the highest
	// quality available model serves the request.
	if result.ModelUsed != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", result.ModelUsed)
	}
}

func TestExecuteBatchedPath(t *testing.T) {
	f := newFixture(t, nil)

	queue := batching.NewQueue()
	sched := batching.NewScheduler(batching.SchedulerConfig{
		PollInterval: 5 * time.Millisecond,
		MaxBatchSize: 4,
		MinBatchSize: 2,
		MaxWaitMs:    100,
		StopTimeout:  2 * time.Second,
	}, queue, provider.NewClientExecutor(f.client))
	sched.OnBatch = func(group string, size int) { f.tel.RecordBatch(size) }
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	f.orch.engine = batching.NewEngine(batching.EngineConfig{
		LatencyThresholdMs: 500,
		MaxBatchSize:       4,
		MaxWaitMs:          100,
		EligibleTasks:      []string{"faq", "summarization", "translation"},
	})
	f.orch.sched = sched

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:          "What is your refund policy",
		LatencyBudgetMs: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response == "" || result.CacheTier != domain.TierNone {
		t.Errorf("result = %+v", result)
	}
	if len(f.client.Calls()) != 1 {
		t.Errorf("provider calls = %d, want 1", len(f.client.Calls()))
	}
	if sizes := f.tel.Aggregator.BatchSizeSample(); len(sizes) != 1 || sizes[0] != 1 {
		t.Errorf("batch sizes = %v", sizes)
	}
}

func TestExecuteTightLatencyBudgetSkipsBatching(t *testing.T) {
	f := newFixture(t, nil)

	queue := batching.NewQueue()
	sched := batching.NewScheduler(batching.SchedulerConfig{
		PollInterval: 5 * time.Millisecond,
		MaxBatchSize: 4,
		MinBatchSize: 2,
		MaxWaitMs:    100,
		StopTimeout:  2 * time.Second,
	}, queue, provider.NewClientExecutor(f.client))
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	f.orch.engine = batching.NewEngine(batching.EngineConfig{
		LatencyThresholdMs: 500,
		MaxBatchSize:       4,
		MaxWaitMs:          100,
		EligibleTasks:      []string{"faq"},
	})
	f.orch.sched = sched

	start := time.Now()
	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:          "What is your refund policy",
		LatencyBudgetMs: 300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response == "" {
		t.Error("empty response")
	}
	// The direct path answers immediately instead of waiting for a
	// batch window.
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("direct path took %v", elapsed)
	}
	if queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0", queue.Size())
	}
}

func TestExecuteSavingsRecordedAgainstPremiumBaseline(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
	})
	if err != nil {
		t.Fatal(err)
	}

	premium, _ := registry.New(testProfiles())
	gpt4, _ := premium.Get("gpt-4")
	wantBaseline := gpt4.EstimateCost(result.TokensInput, result.TokensOutput)
	if wantBaseline <= result.Cost {
		t.Fatalf("test setup broken: baseline %f not above actual %f", wantBaseline, result.Cost)
	}

	events := f.tel.Aggregator.Events(time.Time{})
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].QualityScore != 4.1 {
		t.Errorf("quality = %f, want 4.1", events[0].QualityScore)
	}
}

func TestExecuteSingleModelRegistry(t *testing.T) {
	only := testProfiles()[:1]
	reg, err := registry.New(only)
	if err != nil {
		t.Fatal(err)
	}
	client := provider.NewMockClient(nil)
	tel := telemetry.New(telemetry.NewMetrics(), telemetry.NewAggregator(100, 24*time.Hour))
	orch, err := New(Options{
		Registry:    reg,
		Interpreter: routing.NewInterpreter("medium", "normal"),
		Router:      routing.NewRouter(reg, 1e-6),
		Client:      client,
		Telemetry:   tel,
		Retry: resilience.RetryConfig{
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
			BackoffMax:  time.Millisecond,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Even unsatisfiable constraints route to the only model.
	result, err := orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:            "Tell me about the history of Kyoto",
		QualityPreference: "max",
		LatencyPreference: "instant",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelUsed != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", result.ModelUsed)
	}

	// With no distinct fallback, a provider failure surfaces directly.
	client.FailModel("gpt-4", 10)
	_, err = orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Summarize the Meiji restoration",
	})
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("err = %v, want provider", err)
	}
}

func TestExecuteQualityThresholdRaisesRoutingFloor(t *testing.T) {
	f := newFixture(t, nil)

	// 4.4 rules out gpt-4o-mini (4.1) even though the default
	// preference alone would have served it.
	result, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:           "Tell me about the history of Kyoto",
		QualityThreshold: 4.4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelUsed != "gpt-4" {
		t.Errorf("model = %q, want gpt-4 for quality >= 4.4", result.ModelUsed)
	}

	// A threshold below the interpreted floor changes nothing.
	result, err = f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:           "Tell me about the geography of Hokkaido",
		QualityThreshold: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelUsed != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", result.ModelUsed)
	}
}

func TestExecuteRecordsRoutingDecisions(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt: "Tell me about the history of Kyoto",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.Execute(context.Background(), domain.InferenceRequest{
		Prompt:            "Explain the tea ceremony",
		QualityPreference: "max",
		LatencyPreference: "instant",
	}); err != nil {
		t.Fatal(err)
	}

	routing := f.tel.Aggregator.RoutingCounts()
	if routing[telemetry.RoutingKey{Model: "gpt-4o-mini", Fallback: false}] != 1 {
		t.Errorf("routing counts = %v, want one direct gpt-4o-mini decision", routing)
	}
	if routing[telemetry.RoutingKey{Model: "gpt-4", Fallback: true}] != 1 {
		t.Errorf("routing counts = %v, want one fallback gpt-4 decision", routing)
	}
}
