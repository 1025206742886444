package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSet keeps one circuit breaker per model so a failing model
// cannot poison calls to healthy ones.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings gobreaker.Settings
}

// NewBreakerSet builds a breaker set with the provider-path defaults:
// the circuit opens after five consecutive failures and probes again
// after 30 seconds.
func NewBreakerSet() *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
}

// Execute runs fn through the breaker for model. When the circuit is
// open the call fails immediately with gobreaker.ErrOpenState.
func (b *BreakerSet) Execute(model string, fn func() (any, error)) (any, error) {
	return b.breaker(model).Execute(fn)
}

// State returns the breaker state for model, creating it if needed.
func (b *BreakerSet) State(model string) gobreaker.State {
	return b.breaker(model).State()
}

func (b *BreakerSet) breaker(model string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[model]
	if !ok {
		s := b.settings
		s.Name = model
		cb = gobreaker.NewCircuitBreaker(s)
		b.breakers[model] = cb
	}
	return cb
}
