package orchestrator

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"asahi/internal/domain"
)

// requestSchema is the request envelope contract. Optional fields are
// validated only when the caller sets them.
const requestSchema = `{
	"type": "object",
	"required": ["prompt"],
	"properties": {
		"prompt": {
			"type": "string",
			"minLength": 1,
			"maxLength": 100000
		},
		"latency_budget_ms": {
			"type": "integer",
			"minimum": 50,
			"maximum": 30000
		},
		"quality_threshold": {
			"type": "number",
			"minimum": 0,
			"maximum": 5
		},
		"cost_budget": {
			"type": "number",
			"minimum": 0
		},
		"model": {
			"type": "string"
		},
		"quality_preference": {
			"enum": ["low", "medium", "high", "max"]
		},
		"latency_preference": {
			"enum": ["slow", "normal", "fast", "instant"]
		}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		panic(fmt.Sprintf("request schema does not compile: %v", err))
	}
	return schema
}

// validateRequest checks the envelope before any component is touched.
// A rejected request leaves no trace in caches or telemetry.
func validateRequest(req domain.InferenceRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.Validation("prompt", "prompt must not be empty")
	}

	doc := map[string]any{"prompt": req.Prompt}
	if req.LatencyBudgetMs != 0 {
		doc["latency_budget_ms"] = req.LatencyBudgetMs
	}
	if req.QualityThreshold != 0 {
		doc["quality_threshold"] = req.QualityThreshold
	}
	if req.CostBudget != 0 {
		doc["cost_budget"] = req.CostBudget
	}
	if req.QualityPreference != "" {
		doc["quality_preference"] = req.QualityPreference
	}
	if req.LatencyPreference != "" {
		doc["latency_preference"] = req.LatencyPreference
	}

	result, err := compiledSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return domain.Wrap(domain.ErrValidation, "validating request", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return domain.Validation(first.Field(), first.Description())
	}
	return nil
}
