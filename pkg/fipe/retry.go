package fipe

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	fipeRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fipeRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fipe_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	fipeRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fipe_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the initial call.
	// A call therefore runs at most MaxRetries+1 times.
	MaxRetries int

	// BackoffBase is the first sleep interval; retry n sleeps exactly
	// BackoffBase * 2^n, without jitter.
	BackoffBase time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
	}
}

// backoffFor returns the sleep interval preceding retry number attempt,
// counted from zero.
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	return c.BackoffBase << uint(attempt)
}

// retryWithBackoff executes fn with bounded exponential backoff.
// Non-retryable failures short-circuit immediately; exhausting the
// budget surfaces the last failure wrapped in ErrRetryExhausted.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		class := ClassOf(err)

		if !Retryable(err) {
			return lastErr
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		backoff := cfg.backoffFor(attempt)
		fipeRetriesTotal.WithLabelValues(string(class)).Inc()
		fipeRetryBackoffSeconds.WithLabelValues(string(class)).Observe(backoff.Seconds())

		log.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(backoff):
		}
	}

	class := ClassOf(lastErr)
	fipeRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	log.Warn().
		Str("error_class", string(class)).
		Int("max_retries", cfg.MaxRetries).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, cfg.MaxRetries, lastErr)
}
