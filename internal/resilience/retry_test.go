package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 4 * time.Millisecond}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("upstream returned 503")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return errors.New("timeout waiting for response")
	})
	if err == nil {
		t.Fatal("expected error after budget exhaustion")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid api key")
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryConfig{MaxAttempts: 3, BackoffBase: time.Minute, BackoffMax: time.Minute}, func() error {
		return errors.New("503")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"request timeout", true},
		{"context deadline exceeded", true},
		{"rate limit exceeded", true},
		{"status 429", true},
		{"upstream 502 bad gateway", true},
		{"connection refused", true},
		{"invalid api key", false},
		{"model not found", false},
	}
	for _, tt := range tests {
		if got := IsRetryable(errors.New(tt.msg)); got != tt.want {
			t.Errorf("IsRetryable(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	set := NewBreakerSet()
	fail := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 5; i++ {
		if _, err := set.Execute("gpt-4", fail); err == nil {
			t.Fatal("expected failure")
		}
	}

	if set.State("gpt-4") != gobreaker.StateOpen {
		t.Errorf("expected open circuit, got %v", set.State("gpt-4"))
	}
	_, err := set.Execute("gpt-4", fail)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}

	// Failures on one model must not affect another.
	if _, err := set.Execute("haiku", func() (any, error) { return "ok", nil }); err != nil {
		t.Errorf("healthy model tripped: %v", err)
	}
}
