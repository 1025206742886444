// Package domain defines the core types shared across the gateway.
package domain

import (
	"time"
)

// TaskType classifies a prompt for routing and cache admission.
type TaskType string

// Known task types. TaskGeneral is the fallback when detection finds
// nothing more specific.
const (
	TaskGeneral       TaskType = "general"
	TaskCoding        TaskType = "coding"
	TaskReasoning     TaskType = "reasoning"
	TaskLegal         TaskType = "legal"
	TaskSummarization TaskType = "summarization"
	TaskFAQ           TaskType = "faq"
	TaskTranslation   TaskType = "translation"
	TaskCreative      TaskType = "creative"
)

// CostSensitivity expresses how aggressively a caller wants cached
// reuse over fresh inference.
type CostSensitivity string

const (
	SensitivityLow    CostSensitivity = "low"
	SensitivityMedium CostSensitivity = "medium"
	SensitivityHigh   CostSensitivity = "high"
)

// Availability is the serving state of a model.
type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityDegraded    Availability = "degraded"
	AvailabilityUnavailable Availability = "unavailable"
)

// CacheTier identifies which cache, if any, served a request.
type CacheTier string

const (
	TierNone     CacheTier = "none"
	TierExact    CacheTier = "exact"
	TierSemantic CacheTier = "semantic"
)

// ModelProfile is an immutable catalog entry for one model. Profiles
// are loaded once at startup and never mutated afterwards, so reads
// need no synchronization.
type ModelProfile struct {
	Name            string
	Provider        string
	InputCostPer1K  float64 // USD per 1000 input tokens
	OutputCostPer1K float64 // USD per 1000 output tokens
	AvgLatencyMs    float64 // expected p50
	QualityScore    float64 // 0.0 - 5.0
	MaxInputTokens  int
	MaxOutputTokens int
	Availability    Availability
}

// AvgCostPer1K is the blended per-1K-token rate used for filtering
// and scoring.
func (p ModelProfile) AvgCostPer1K() float64 {
	return (p.InputCostPer1K + p.OutputCostPer1K) / 2
}

// EstimateCost prices a request from actual token counts.
func (p ModelProfile) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputCostPer1K +
		float64(outputTokens)/1000*p.OutputCostPer1K
}

// Usable reports whether the profile may receive traffic.
func (p ModelProfile) Usable() bool {
	return p.Availability != AvailabilityUnavailable
}

// RoutingConstraints are the numeric requirements derived per request
// by the constraint interpreter.
type RoutingConstraints struct {
	MinQuality        float64
	MaxLatencyMs      float64
	MaxCostPerRequest float64 // 0 means unconstrained
}

// Alternative describes a model the router considered but did not
// choose, with the savings relative to the chosen one.
type Alternative struct {
	Model        string
	SavingsPer1K float64
}

// RoutingDecision is the router's output.
type RoutingDecision struct {
	Model                string
	Score                float64
	Reason               string
	CandidatesConsidered int
	FallbackUsed         bool
	Alternatives         []Alternative
}

// InferenceRequest is the orchestrator's input envelope.
type InferenceRequest struct {
	Prompt            string
	TaskID            string
	LatencyBudgetMs   int
	QualityThreshold  float64
	CostBudget        float64 // 0 means unset
	UserID            string
	TenantID          string
	Model             string // explicit model override, optional
	QualityPreference string // low|medium|high|max, optional
	LatencyPreference string // slow|normal|fast|instant, optional
}

// InferenceResult is the immutable per-request outcome returned to
// the caller.
type InferenceResult struct {
	RequestID     string
	Response      string
	ModelUsed     string
	TokensInput   int
	TokensOutput  int
	Cost          float64
	LatencyMs     float64
	CacheTier     CacheTier
	RoutingReason string
}

// InferenceEvent is the append-only accounting record emitted after
// every completed request.
type InferenceEvent struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	TenantID     string    `json:"tenant_id,omitempty"`
	TaskType     TaskType  `json:"task_type"`
	Model        string    `json:"model"`
	CacheTier    CacheTier `json:"cache_tier"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	LatencyMs    float64   `json:"latency_ms"`
	CostUSD      float64   `json:"cost_usd"`
	Reason       string    `json:"reason,omitempty"`
	QualityScore float64   `json:"quality_score,omitempty"`
}

// QueuedRequest is one request waiting in a batch group.
type QueuedRequest struct {
	ID         string
	Prompt     string
	TaskType   TaskType
	Model      string
	EnqueuedAt time.Time
	Deadline   time.Time
}

// ProviderResult is one completion returned by a provider call.
type ProviderResult struct {
	Response     string
	Model        string
	TokensInput  int
	TokensOutput int
}
