// Package semantic implements the Tier-2 cache: similarity lookup over
// prompt embeddings gated by an economic admission rule.
package semantic

import (
	"fmt"

	"asahi/internal/domain"
)

// Base similarity thresholds by cost sensitivity. Higher sensitivity
// means the caller prefers reuse over recompute, so the bar drops.
var baseThresholds = map[domain.CostSensitivity]float64{
	domain.SensitivityLow:    0.90,
	domain.SensitivityMedium: 0.85,
	domain.SensitivityHigh:   0.78,
}

// Per-task adjustments on top of the sensitivity base. High-stakes
// tasks demand closer matches; FAQ and summarization tolerate drift.
var taskAdjustments = map[domain.TaskType]float64{
	domain.TaskCoding:        0.07,
	domain.TaskLegal:         0.08,
	domain.TaskReasoning:     0.05,
	domain.TaskFAQ:           -0.05,
	domain.TaskSummarization: -0.05,
	domain.TaskTranslation:   -0.03,
}

// Task weights for the mismatch-cost calculation. Heavier weight makes
// reuse more conservative.
var defaultTaskWeights = map[domain.TaskType]float64{
	domain.TaskCoding:        2.0,
	domain.TaskLegal:         2.5,
	domain.TaskReasoning:     1.8,
	domain.TaskGeneral:       1.0,
	domain.TaskCreative:      1.0,
	domain.TaskTranslation:   0.8,
	domain.TaskSummarization: 0.7,
	domain.TaskFAQ:           0.6,
}

// AdmissionPolicy decides whether a similarity-store candidate may be
// served in place of fresh inference.
type AdmissionPolicy struct {
	globalPenalty float64
	weights       map[domain.TaskType]float64
	overrides     map[string]float64 // "task:sensitivity" -> threshold
}

// NewAdmissionPolicy builds a policy with the default tables.
// globalPenalty scales all mismatch costs; overrides replace individual
// threshold cells and may be nil.
func NewAdmissionPolicy(globalPenalty float64, taskWeights, overrides map[string]float64) *AdmissionPolicy {
	if globalPenalty <= 0 {
		globalPenalty = 2.0
	}
	weights := make(map[domain.TaskType]float64, len(defaultTaskWeights))
	for k, v := range defaultTaskWeights {
		weights[k] = v
	}
	for k, v := range taskWeights {
		weights[domain.TaskType(k)] = v
	}
	return &AdmissionPolicy{
		globalPenalty: globalPenalty,
		weights:       weights,
		overrides:     overrides,
	}
}

// Threshold returns the minimum similarity for (task, sensitivity).
func (p *AdmissionPolicy) Threshold(task domain.TaskType, sensitivity domain.CostSensitivity) float64 {
	if t, ok := p.overrides[fmt.Sprintf("%s:%s", task, sensitivity)]; ok {
		return t
	}
	base, ok := baseThresholds[sensitivity]
	if !ok {
		base = baseThresholds[domain.SensitivityMedium]
	}
	t := base + taskAdjustments[task]
	if t > 0.99 {
		t = 0.99
	}
	if t < 0 {
		t = 0
	}
	return t
}

// EffectiveThreshold resolves the bar when the query and the cached
// entry were classified differently: the more lenient of the two wins.
func (p *AdmissionPolicy) EffectiveThreshold(queryTask, entryTask domain.TaskType, sensitivity domain.CostSensitivity) float64 {
	tq := p.Threshold(queryTask, sensitivity)
	if entryTask == "" || entryTask == queryTask {
		return tq
	}
	te := p.Threshold(entryTask, sensitivity)
	if te < tq {
		return te
	}
	return tq
}

// Weight returns the mismatch weight for a task, defaulting to the
// general weight for unknown task types.
func (p *AdmissionPolicy) Weight(task domain.TaskType) float64 {
	if w, ok := p.weights[task]; ok {
		return w
	}
	return p.weights[domain.TaskGeneral]
}

// ShouldUseCache applies the economic half of the admission rule:
// reuse is worthwhile iff the expected mismatch cost is strictly below
// the cost of recomputing. At similarity 1 the mismatch cost is zero,
// so any positive recompute cost admits.
func (p *AdmissionPolicy) ShouldUseCache(similarity float64, task domain.TaskType, recomputeCost float64) bool {
	if recomputeCost <= 0 {
		return false
	}
	mismatch := (1 - similarity) * p.globalPenalty * p.Weight(task) * recomputeCost
	return mismatch < recomputeCost
}
