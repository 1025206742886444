// Package batching coalesces compatible requests into provider batches:
// an eligibility engine, a grouped FIFO queue, and a deadline-aware
// scheduler.
package batching

import (
	"context"
	"sync"

	"asahi/internal/domain"
)

// Outcome is the terminal state of a queued request.
type Outcome struct {
	Result domain.ProviderResult
	Err    error
}

// Handle is the caller's side of a queued request. It resolves exactly
// once; a caller that abandons the wait does not block the scheduler.
type Handle struct {
	once sync.Once
	ch   chan Outcome
}

func newHandle() *Handle {
	return &Handle{ch: make(chan Outcome, 1)}
}

func (h *Handle) resolve(out Outcome) {
	h.once.Do(func() { h.ch <- out })
}

// Wait blocks until the request resolves or ctx expires. After a
// context abort the eventual resolution is discarded.
func (h *Handle) Wait(ctx context.Context) (domain.ProviderResult, error) {
	select {
	case out := <-h.ch:
		return out.Result, out.Err
	case <-ctx.Done():
		return domain.ProviderResult{}, ctx.Err()
	}
}
