// Package provider defines the narrow client surface the gateway needs
// from an LLM backend, plus the batch executor built on top of it.
package provider

import (
	"context"
	"fmt"

	"asahi/internal/domain"
)

// Client is a single-completion LLM client.
type Client interface {
	Complete(ctx context.Context, model, prompt string) (domain.ProviderResult, error)
}

// Executor runs a batch of queued requests. Result order matches input
// order; returning fewer results than requests signals partial failure
// for the tail.
type Executor interface {
	Execute(ctx context.Context, batch []domain.QueuedRequest) ([]domain.ProviderResult, error)
}

// EstimateTokens approximates the token count of a text. Four bytes
// per token tracks the usual BPE tokenizers closely enough for batch
// sizing and cost estimates.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ClientExecutor satisfies the executor contract by issuing one
// completion per request against the underlying client. A provider
// with a native batch endpoint can replace this wholesale.
type ClientExecutor struct {
	client Client
}

// NewClientExecutor wraps a client as an executor.
func NewClientExecutor(client Client) *ClientExecutor {
	return &ClientExecutor{client: client}
}

func (e *ClientExecutor) Execute(ctx context.Context, batch []domain.QueuedRequest) ([]domain.ProviderResult, error) {
	results := make([]domain.ProviderResult, 0, len(batch))
	for i, req := range batch {
		res, err := e.client.Complete(ctx, req.Model, req.Prompt)
		if err != nil {
			// Completed prefixes stay valid; the scheduler treats the
			// shortfall as a partial failure.
			if i > 0 {
				return results, nil
			}
			return nil, fmt.Errorf("batch request %s failed: %w", req.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}
