package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"asahi/internal/analytics"
	"asahi/internal/domain"
	"asahi/internal/orchestrator"
)

// The HTTP layer is a thin adapter over the orchestrator; all request
// semantics live in the core packages.

type inferenceRequest struct {
	Prompt            string  `json:"prompt"`
	TaskID            string  `json:"task_id,omitempty"`
	LatencyBudgetMs   int     `json:"latency_budget_ms,omitempty"`
	QualityThreshold  float64 `json:"quality_threshold,omitempty"`
	CostBudget        float64 `json:"cost_budget,omitempty"`
	UserID            string  `json:"user_id,omitempty"`
	TenantID          string  `json:"tenant_id,omitempty"`
	Model             string  `json:"model,omitempty"`
	QualityPreference string  `json:"quality_preference,omitempty"`
	LatencyPreference string  `json:"latency_preference,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func newAPIHandler(orch *orchestrator.Orchestrator, eng *analytics.Engine, maxRequestSize int64) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/v1/inference", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		var body inferenceRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", Kind: "validation"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body", Kind: "validation"})
			return
		}

		result, err := orch.Execute(r.Context(), domain.InferenceRequest{
			Prompt:            body.Prompt,
			TaskID:            body.TaskID,
			LatencyBudgetMs:   body.LatencyBudgetMs,
			QualityThreshold:  body.QualityThreshold,
			CostBudget:        body.CostBudget,
			UserID:            body.UserID,
			TenantID:          body.TenantID,
			Model:             body.Model,
			QualityPreference: body.QualityPreference,
			LatencyPreference: body.LatencyPreference,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/v1/analytics/summary", func(w http.ResponseWriter, r *http.Request) {
		period := durationParam(r, "period_hours", 24)
		writeJSON(w, http.StatusOK, map[string]any{
			"cost_by_model":       eng.CostBreakdown(period, analytics.ByModel),
			"baseline":            eng.Baseline(period),
			"cache_performance":   eng.CachePerformance(period),
			"latency_percentiles": eng.LatencyPercentiles(),
			"anomalies":           eng.CheckAll(),
		})
	})

	mux.HandleFunc("/v1/analytics/forecast", func(w http.ResponseWriter, r *http.Request) {
		days := intParam(r, "days", 7)
		writeJSON(w, http.StatusOK, eng.ForecastCost(days))
	})

	return mux
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.ErrValidation:
		status = http.StatusBadRequest
	case domain.ErrModelNotFound:
		status = http.StatusNotFound
	case domain.ErrNoModels:
		status = http.StatusServiceUnavailable
	case domain.ErrProvider, domain.ErrBatching:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func durationParam(r *http.Request, name string, defaultHours int) time.Duration {
	hours := intParam(r, name, defaultHours)
	return time.Duration(hours) * time.Hour
}

func intParam(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
