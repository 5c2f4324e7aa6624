package fipe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.BackoffBase != 500*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 500ms", cfg.BackoffBase)
	}
}

func TestBackoffFor_Doubles(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 500 * time.Millisecond}

	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
	}
	for attempt, expected := range want {
		if got := cfg.backoffFor(attempt); got != expected {
			t.Errorf("backoffFor(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 10 * time.Millisecond}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 10 * time.Millisecond}

	// Fails twice with a retryable class, then succeeds.
	callCount := 0
	err := retryWithBackoff(ctx, cfg, func() error {
		callCount++
		if callCount < 3 {
			return &APIError{StatusCode: 503, Class: ClassServer, Endpoint: "brands"}
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 5 * time.Millisecond}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, func() error {
		callCount++
		return &APIError{StatusCode: 429, Class: ClassRateLimited, Endpoint: "price"}
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	// MaxRetries re-attempts after the initial call.
	if callCount != 4 {
		t.Errorf("Expected 4 calls, got %d", callCount)
	}

	// The classified failure stays reachable for skip accounting.
	if ClassOf(err) != ClassRateLimited {
		t.Errorf("ClassOf = %q, want %q", ClassOf(err), ClassRateLimited)
	}
}

func TestRetryWithBackoff_SleepGrowth(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 20 * time.Millisecond}

	var timestamps []time.Time
	_ = retryWithBackoff(ctx, cfg, func() error {
		timestamps = append(timestamps, time.Now())
		return &APIError{StatusCode: 500, Class: ClassServer, Endpoint: "price"}
	})

	if len(timestamps) != 4 {
		t.Fatalf("Expected 4 timestamps, got %d", len(timestamps))
	}

	// Exactly MaxRetries sleeps, each double the previous: 20, 40, 80ms.
	for i, want := range []time.Duration{20, 40, 80} {
		delay := timestamps[i+1].Sub(timestamps[i])
		min := want * time.Millisecond
		if delay < min {
			t.Errorf("Sleep %d = %v, want >= %v", i, delay, min)
		}
		if delay > min*4 {
			t.Errorf("Sleep %d = %v, unexpectedly far above %v", i, delay, min)
		}
	}
}

func TestRetryWithBackoff_FatalNoRetry(t *testing.T) {
	ctx := context.Background()
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 10 * time.Millisecond}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, func() error {
		callCount++
		return &APIError{StatusCode: 401, Class: ClassUnauthorized, Endpoint: "brands"}
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for fatal failures), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not wrap fatal failures in ErrRetryExhausted")
	}
	if !IsUnauthorized(err) {
		t.Errorf("Expected unauthorized classification, got %v", err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 50 * time.Millisecond}

	callCount := 0
	err := retryWithBackoff(ctx, cfg, func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return &APIError{StatusCode: 503, Class: ClassServer, Endpoint: "price"}
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount >= 4 {
		t.Errorf("Expected fewer than 4 calls due to cancellation, got %d", callCount)
	}
}
