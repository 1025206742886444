// Package resilience wraps outbound provider calls with retry and
// circuit breaking.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig controls the exponential backoff retry loop around a
// provider call.
type RetryConfig struct {
	MaxAttempts int           // total attempts, including the first
	BackoffBase time.Duration // delay before the first retry
	BackoffMax  time.Duration
	Jitter      bool
}

// DefaultRetryConfig is the provider-path policy: three attempts with
// 1s, 2s, 4s waits between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  8 * time.Second,
		Jitter:      false,
	}
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, a
// non-retryable error occurs, or ctx is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt, cfg.BackoffBase, cfg.BackoffMax, cfg.Jitter)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// calculateBackoff is base * 2^(attempt-1), capped at max.
func calculateBackoff(attempt int, base, max time.Duration, jitter bool) time.Duration {
	backoff := base * time.Duration(math.Pow(2, float64(attempt-1)))
	if backoff > max {
		backoff = max
	}

	if jitter {
		// ±25% to avoid thundering herds against a recovering provider.
		jitterRange := float64(backoff) * 0.25
		backoff += time.Duration((rand.Float64() - 0.5) * 2 * jitterRange)
	}

	if backoff < 0 {
		backoff = base
	}
	return backoff
}

// IsRetryable reports whether a provider failure is worth retrying.
// Timeouts, rate limits, and upstream 5xx responses are transient;
// everything else fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())

	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return true
	case strings.Contains(s, "rate limit"), strings.Contains(s, "429"):
		return true
	case strings.Contains(s, "500"), strings.Contains(s, "502"),
		strings.Contains(s, "503"), strings.Contains(s, "504"):
		return true
	case strings.Contains(s, "connection refused"), strings.Contains(s, "connection reset"),
		strings.Contains(s, "broken pipe"):
		return true
	}
	return false
}
