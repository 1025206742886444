package batching

import (
	"fmt"

	"asahi/internal/domain"
	"asahi/internal/provider"
)

// EngineConfig mirrors the batching section of the configuration.
type EngineConfig struct {
	LatencyThresholdMs int
	MaxBatchSize       int
	MaxWaitMs          int
	EligibleTasks      []string
}

// Eligibility is the engine's verdict for one request.
type Eligibility struct {
	Eligible  bool
	Reason    string
	GroupKey  string
	MaxWaitMs int
}

// Engine decides whether a request may wait for batching.
type Engine struct {
	cfg      EngineConfig
	eligible map[domain.TaskType]bool
}

// NewEngine builds an eligibility engine.
func NewEngine(cfg EngineConfig) *Engine {
	eligible := make(map[domain.TaskType]bool, len(cfg.EligibleTasks))
	for _, t := range cfg.EligibleTasks {
		eligible[domain.TaskType(t)] = true
	}
	return &Engine{cfg: cfg, eligible: eligible}
}

// Evaluate applies the eligibility rules in order. A latency budget at
// or below the threshold leaves no room to wait, so it is ineligible.
func (e *Engine) Evaluate(prompt string, task domain.TaskType, model domain.ModelProfile, latencyBudgetMs int) Eligibility {
	if latencyBudgetMs <= e.cfg.LatencyThresholdMs {
		return Eligibility{Reason: fmt.Sprintf("latency budget %dms at or below batching threshold %dms",
			latencyBudgetMs, e.cfg.LatencyThresholdMs)}
	}
	if !e.eligible[task] {
		return Eligibility{Reason: fmt.Sprintf("task type %s not batchable", task)}
	}

	if e.cfg.MaxBatchSize > 0 && model.MaxInputTokens > 0 {
		perSlot := model.MaxInputTokens / e.cfg.MaxBatchSize
		if provider.EstimateTokens(prompt) > perSlot {
			return Eligibility{Reason: fmt.Sprintf("prompt too large for a %d-slot batch on %s",
				e.cfg.MaxBatchSize, model.Name)}
		}
	}

	maxWait := latencyBudgetMs - int(model.AvgLatencyMs)
	if maxWait > e.cfg.MaxWaitMs {
		maxWait = e.cfg.MaxWaitMs
	}
	if maxWait < 0 {
		maxWait = 0
	}

	return Eligibility{
		Eligible:  true,
		Reason:    "batchable",
		GroupKey:  string(task) + ":" + model.Name,
		MaxWaitMs: maxWait,
	}
}
