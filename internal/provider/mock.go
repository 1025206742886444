package provider

import (
	"context"
	"fmt"
	"sync"

	"asahi/internal/domain"
)

// MockClient is a deterministic in-process client for tests. Responses
// come from the scripted map, or a generated echo when unscripted.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]string // prompt -> response
	failures  map[string]int    // model -> remaining failures
	calls     []MockCall
}

// MockCall records one Complete invocation.
type MockCall struct {
	Model  string
	Prompt string
}

// NewMockClient builds a mock with optional scripted responses.
func NewMockClient(responses map[string]string) *MockClient {
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockClient{
		responses: responses,
		failures:  make(map[string]int),
	}
}

// FailModel makes the next n calls against model return an error.
func (m *MockClient) FailModel(model string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[model] = n
}

// Calls returns a copy of the recorded invocations.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClient) Complete(ctx context.Context, model, prompt string) (domain.ProviderResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Model: model, Prompt: prompt})
	if m.failures[model] > 0 {
		m.failures[model]--
		m.mu.Unlock()
		return domain.ProviderResult{}, fmt.Errorf("mock provider failure for %s: upstream 503", model)
	}
	response, scripted := m.responses[prompt]
	m.mu.Unlock()

	if !scripted {
		response = fmt.Sprintf("%s response to: %s", model, prompt)
	}
	return domain.ProviderResult{
		Response:     response,
		Model:        model,
		TokensInput:  EstimateTokens(prompt),
		TokensOutput: EstimateTokens(response),
	}, nil
}
