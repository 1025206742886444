// Package routing maps request preferences to numeric constraints and
// selects the cheapest model that satisfies them.
package routing

import (
	"fmt"

	"asahi/internal/domain"
)

// Preference lookup tables. Keys are the only accepted spellings;
// anything else is a validation error, not a silent default.
var qualityFloors = map[string]float64{
	"low":    3.0,
	"medium": 3.5,
	"high":   4.0,
	"max":    4.5,
}

var latencyCeilings = map[string]float64{
	"slow":    2000,
	"normal":  500,
	"fast":    300,
	"instant": 150,
}

// taskOverride tightens constraints for tasks where a wrong answer is
// expensive regardless of what the caller asked for.
type taskOverride struct {
	minQuality   float64
	maxLatencyMs float64
}

var taskOverrides = map[domain.TaskType]taskOverride{
	domain.TaskCoding:    {minQuality: 4.0, maxLatencyMs: 500},
	domain.TaskReasoning: {minQuality: 4.0, maxLatencyMs: 500},
	domain.TaskLegal:     {minQuality: 4.2, maxLatencyMs: 2000},
}

// Interpreter resolves preferences against the lookup tables. The
// defaults fill in preferences the caller left empty.
type Interpreter struct {
	defaultQuality string
	defaultLatency string
}

// NewInterpreter builds an interpreter with the configured default
// preference names.
func NewInterpreter(defaultQuality, defaultLatency string) *Interpreter {
	if defaultQuality == "" {
		defaultQuality = "medium"
	}
	if defaultLatency == "" {
		defaultLatency = "normal"
	}
	return &Interpreter{defaultQuality: defaultQuality, defaultLatency: defaultLatency}
}

// Interpret maps (quality_preference, latency_preference, task) to
// numeric constraints. Task overrides take max(quality) and
// min(latency) against the preference-derived values.
func (i *Interpreter) Interpret(qualityPref, latencyPref string, task domain.TaskType, costBudget float64) (domain.RoutingConstraints, error) {
	if qualityPref == "" {
		qualityPref = i.defaultQuality
	}
	if latencyPref == "" {
		latencyPref = i.defaultLatency
	}

	minQuality, ok := qualityFloors[qualityPref]
	if !ok {
		return domain.RoutingConstraints{}, domain.Validation("quality_preference",
			fmt.Sprintf("unknown quality preference %q", qualityPref))
	}
	maxLatency, ok := latencyCeilings[latencyPref]
	if !ok {
		return domain.RoutingConstraints{}, domain.Validation("latency_preference",
			fmt.Sprintf("unknown latency preference %q", latencyPref))
	}

	if o, ok := taskOverrides[task]; ok {
		if o.minQuality > minQuality {
			minQuality = o.minQuality
		}
		if o.maxLatencyMs < maxLatency {
			maxLatency = o.maxLatencyMs
		}
	}

	return domain.RoutingConstraints{
		MinQuality:        minQuality,
		MaxLatencyMs:      maxLatency,
		MaxCostPerRequest: costBudget,
	}, nil
}
