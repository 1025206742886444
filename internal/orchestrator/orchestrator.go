// Package orchestrator wires the cache tiers, router, batch scheduler,
// and providers into the single request pipeline.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"asahi/internal/batching"
	"asahi/internal/cache/embedding"
	"asahi/internal/cache/exact"
	"asahi/internal/cache/semantic"
	"asahi/internal/domain"
	"asahi/internal/provider"
	"asahi/internal/registry"
	"asahi/internal/resilience"
	"asahi/internal/routing"
	"asahi/internal/telemetry"
)

// Options collects the orchestrator's collaborators. Registry, Router,
// Interpreter, Client, and Telemetry are required; the cache tiers and
// the scheduler are optional and skipped when nil.
type Options struct {
	Registry    *registry.Registry
	Interpreter *routing.Interpreter
	Router      *routing.Router
	Client      provider.Client
	Telemetry   *telemetry.Telemetry

	ExactCache    exact.Store
	SemanticCache *semantic.Service
	BatchEngine   *batching.Engine
	Scheduler     *batching.Scheduler

	Breakers *resilience.BreakerSet
	Retry    resilience.RetryConfig

	TenantScoped       bool
	DefaultSensitivity domain.CostSensitivity
}

// Orchestrator executes the request pipeline: validate, exact lookup,
// semantic lookup, route, batch or call, record.
type Orchestrator struct {
	registry    *registry.Registry
	interpreter *routing.Interpreter
	router      *routing.Router
	client      provider.Client
	tel         *telemetry.Telemetry

	exact    exact.Store
	semantic *semantic.Service
	engine   *batching.Engine
	sched    *batching.Scheduler

	breakers *resilience.BreakerSet
	retryCfg resilience.RetryConfig

	tenantScoped bool
	sensitivity  domain.CostSensitivity

	now func() time.Time
}

// New builds an orchestrator from its collaborators.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Router == nil || opts.Interpreter == nil {
		return nil, domain.E(domain.ErrConfiguration, "orchestrator requires registry, router, and interpreter")
	}
	if opts.Client == nil {
		return nil, domain.E(domain.ErrConfiguration, "orchestrator requires a provider client")
	}
	if opts.Telemetry == nil {
		return nil, domain.E(domain.ErrConfiguration, "orchestrator requires telemetry")
	}
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewBreakerSet()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.DefaultSensitivity == "" {
		opts.DefaultSensitivity = domain.SensitivityMedium
	}
	return &Orchestrator{
		registry:     opts.Registry,
		interpreter:  opts.Interpreter,
		router:       opts.Router,
		client:       opts.Client,
		tel:          opts.Telemetry,
		exact:        opts.ExactCache,
		semantic:     opts.SemanticCache,
		engine:       opts.BatchEngine,
		sched:        opts.Scheduler,
		breakers:     opts.Breakers,
		retryCfg:     opts.Retry,
		tenantScoped: opts.TenantScoped,
		sensitivity:  opts.DefaultSensitivity,
		now:          time.Now,
	}, nil
}

// Execute runs one request through the pipeline.
func (o *Orchestrator) Execute(ctx context.Context, req domain.InferenceRequest) (domain.InferenceResult, error) {
	if err := validateRequest(req); err != nil {
		return domain.InferenceResult{}, err
	}

	requestID := uuid.NewString()
	start := o.now()

	cacheTenant := ""
	if o.tenantScoped {
		cacheTenant = req.TenantID
	}
	cacheKey := embedding.Fingerprint(req.Prompt, cacheTenant)

	task := routing.DetectTask(req.Prompt)

	// Tier 1: exact match on the normalized prompt.
	if o.exact != nil {
		if entry, ok := o.exact.Get(ctx, cacheKey); ok {
			o.tel.RecordCache(domain.TierExact, true)
			return o.finish(req, requestID, task, start, domain.InferenceResult{
				Response:      entry.Response,
				ModelUsed:     entry.Model,
				TokensInput:   entry.TokensInput,
				TokensOutput:  entry.TokensOutput,
				Cost:          0,
				CacheTier:     domain.TierExact,
				RoutingReason: "exact cache hit",
			}, entry.CostUSD, 0), nil
		}
		o.tel.RecordCache(domain.TierExact, false)
	}

	decision, profile, err := o.route(req, task)
	if err != nil {
		o.tel.RecordError(domain.KindOf(err), "router")
		return domain.InferenceResult{}, err
	}
	o.tel.RecordRouting(decision)

	estTokens := provider.EstimateTokens(req.Prompt)
	recomputeCost := profile.EstimateCost(estTokens, estTokens)

	// Tier 2: semantic match priced against re-running on the routed
	// model.
	if o.semantic != nil {
		hit, missReason := o.semantic.Lookup(ctx, req.Prompt, task, o.sensitivity, recomputeCost, cacheTenant)
		if hit != nil {
			o.tel.RecordCache(domain.TierSemantic, true)
			o.promoteToExact(ctx, cacheKey, req.Prompt, hit)
			return o.finish(req, requestID, task, start, domain.InferenceResult{
				Response:      hit.Response,
				ModelUsed:     hit.Model,
				TokensInput:   estTokens,
				TokensOutput:  provider.EstimateTokens(hit.Response),
				Cost:          0,
				CacheTier:     domain.TierSemantic,
				RoutingReason: "semantic cache hit",
			}, recomputeCost, 0), nil
		}
		o.tel.RecordCache(domain.TierSemantic, false)
		slog.Debug("semantic miss", "request_id", requestID, "reason", missReason)
	}

	result, usedProfile, err := o.complete(ctx, requestID, req, task, profile)
	if err != nil {
		o.tel.RecordError(domain.KindOf(err), "orchestrator")
		return domain.InferenceResult{}, err
	}

	cost := usedProfile.EstimateCost(result.TokensInput, result.TokensOutput)
	savings := o.baselineSavings(usedProfile, result.TokensInput, result.TokensOutput, cost)

	o.storeInCaches(ctx, cacheKey, req, task, result, usedProfile.Name, cost, cacheTenant)

	return o.finish(req, requestID, task, start, domain.InferenceResult{
		Response:      result.Response,
		ModelUsed:     usedProfile.Name,
		TokensInput:   result.TokensInput,
		TokensOutput:  result.TokensOutput,
		Cost:          cost,
		CacheTier:     domain.TierNone,
		RoutingReason: decision.Reason,
	}, savings, usedProfile.QualityScore), nil
}

// route resolves the serving model, honoring an explicit override.
func (o *Orchestrator) route(req domain.InferenceRequest, task domain.TaskType) (domain.RoutingDecision, domain.ModelProfile, error) {
	var (
		decision domain.RoutingDecision
		err      error
	)
	if req.Model != "" {
		decision, err = o.router.RouteExplicit(req.Model)
	} else {
		var constraints domain.RoutingConstraints
		constraints, err = o.interpreter.Interpret(req.QualityPreference, req.LatencyPreference, task, req.CostBudget)
		if err != nil {
			return domain.RoutingDecision{}, domain.ModelProfile{}, err
		}
		// An explicit quality_threshold raises the interpreted floor,
		// never lowers it.
		if req.QualityThreshold > constraints.MinQuality {
			constraints.MinQuality = req.QualityThreshold
		}
		decision, err = o.router.Route(constraints)
	}
	if err != nil {
		return domain.RoutingDecision{}, domain.ModelProfile{}, err
	}

	profile, err := o.registry.Get(decision.Model)
	if err != nil {
		return domain.RoutingDecision{}, domain.ModelProfile{}, err
	}
	return decision, profile, nil
}

// complete obtains a fresh completion, through the batch scheduler
// when the request qualifies, otherwise directly with retry and
// breaker protection.
func (o *Orchestrator) complete(ctx context.Context, requestID string, req domain.InferenceRequest, task domain.TaskType, profile domain.ModelProfile) (domain.ProviderResult, domain.ModelProfile, error) {
	if o.engine != nil && o.sched != nil {
		elig := o.engine.Evaluate(req.Prompt, task, profile, req.LatencyBudgetMs)
		if elig.Eligible {
			result, err := o.completeBatched(ctx, requestID, req, task, profile, elig)
			if err == nil {
				return result, profile, nil
			}
			// A failed batch path falls through to a direct call so
			// one stuck group cannot take the request down with it.
			o.tel.RecordError(domain.KindOf(err), "batching")
			slog.Warn("batched completion failed, falling back to direct call",
				"request_id", requestID, "error", err)
		}
	}
	return o.completeDirect(ctx, requestID, req.Prompt, profile)
}

func (o *Orchestrator) completeBatched(ctx context.Context, requestID string, req domain.InferenceRequest, task domain.TaskType, profile domain.ModelProfile, elig batching.Eligibility) (domain.ProviderResult, error) {
	now := o.now()
	handle, err := o.sched.Enqueue(elig.GroupKey, domain.QueuedRequest{
		ID:         requestID,
		Prompt:     req.Prompt,
		TaskType:   task,
		Model:      profile.Name,
		EnqueuedAt: now,
		Deadline:   now.Add(time.Duration(elig.MaxWaitMs) * time.Millisecond),
	})
	if err != nil {
		return domain.ProviderResult{}, err
	}
	return handle.Wait(ctx)
}

// completeDirect calls the provider with retries and the per-model
// breaker, then tries the highest-quality distinct model once before
// giving up.
func (o *Orchestrator) completeDirect(ctx context.Context, requestID, prompt string, profile domain.ModelProfile) (domain.ProviderResult, domain.ModelProfile, error) {
	result, err := o.callModel(ctx, profile.Name, prompt)
	if err == nil {
		return result, profile, nil
	}

	fallback, ok := o.registry.HighestQualityAvailable()
	if !ok || fallback.Name == profile.Name {
		return domain.ProviderResult{}, domain.ModelProfile{},
			domain.Wrap(domain.ErrProvider, "completion failed with no fallback model", err)
	}

	slog.Warn("provider failed, trying fallback model",
		"request_id", requestID, "model", profile.Name, "fallback", fallback.Name, "error", err)

	result, fbErr := o.callModel(ctx, fallback.Name, prompt)
	if fbErr != nil {
		return domain.ProviderResult{}, domain.ModelProfile{},
			domain.Wrap(domain.ErrProvider, "completion and fallback both failed", fbErr)
	}
	return result, fallback, nil
}

func (o *Orchestrator) callModel(ctx context.Context, model, prompt string) (domain.ProviderResult, error) {
	var result domain.ProviderResult
	err := resilience.Retry(ctx, o.retryCfg, func() error {
		out, err := o.breakers.Execute(model, func() (any, error) {
			return o.client.Complete(ctx, model, prompt)
		})
		if err != nil {
			return err
		}
		result = out.(domain.ProviderResult)
		return nil
	})
	return result, err
}

// promoteToExact copies a semantic hit into Tier 1 so the next
// identical prompt resolves without an embedding call.
func (o *Orchestrator) promoteToExact(ctx context.Context, key, prompt string, hit *semantic.Hit) {
	if o.exact == nil {
		return
	}
	o.exact.Set(ctx, key, exact.Entry{
		Prompt:       prompt,
		Response:     hit.Response,
		Model:        hit.Model,
		TokensOutput: provider.EstimateTokens(hit.Response),
		CostUSD:      hit.CostUSD,
		CreatedAt:    o.now(),
	})
}

func (o *Orchestrator) storeInCaches(ctx context.Context, key string, req domain.InferenceRequest, task domain.TaskType, result domain.ProviderResult, model string, cost float64, tenant string) {
	if o.exact != nil {
		o.exact.Set(ctx, key, exact.Entry{
			Prompt:       req.Prompt,
			Response:     result.Response,
			Model:        model,
			TokensInput:  result.TokensInput,
			TokensOutput: result.TokensOutput,
			CostUSD:      cost,
			CreatedAt:    o.now(),
		})
	}
	if o.semantic != nil {
		o.semantic.Insert(ctx, req.Prompt, result.Response, model, cost, task, tenant)
	}
}

// baselineSavings is the spend avoided relative to serving the same
// tokens on the best available model.
func (o *Orchestrator) baselineSavings(used domain.ModelProfile, in, out int, actual float64) float64 {
	best, ok := o.registry.HighestQualityAvailable()
	if !ok || best.Name == used.Name {
		return 0
	}
	savings := best.EstimateCost(in, out) - actual
	if savings < 0 {
		return 0
	}
	return savings
}

// finish stamps the result, emits the accounting event, and returns.
func (o *Orchestrator) finish(req domain.InferenceRequest, requestID string, task domain.TaskType, start time.Time, result domain.InferenceResult, savings, quality float64) domain.InferenceResult {
	result.RequestID = requestID
	result.LatencyMs = float64(o.now().Sub(start).Microseconds()) / 1000

	o.tel.RecordInference(domain.InferenceEvent{
		RequestID:    requestID,
		Timestamp:    o.now(),
		TenantID:     req.TenantID,
		TaskType:     task,
		Model:        result.ModelUsed,
		CacheTier:    result.CacheTier,
		InputTokens:  result.TokensInput,
		OutputTokens: result.TokensOutput,
		TotalTokens:  result.TokensInput + result.TokensOutput,
		LatencyMs:    result.LatencyMs,
		CostUSD:      result.Cost,
		Reason:       result.RoutingReason,
		QualityScore: quality,
	}, savings)

	return result
}
