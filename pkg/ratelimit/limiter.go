// Package ratelimit gates catalog requests. It enforces a minimum
// inter-request spacing measured globally across all workers, a cap on
// concurrent in-flight calls, and an optional per-day request budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for request gating.
var (
	fipeRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fipe_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a request slot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	fipeInflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fipe_inflight_requests",
		Help: "Number of catalog requests currently in flight",
	})
)

// Limiter composes a counting semaphore with a shared last-call gate.
// A caller must hold a concurrency slot AND satisfy the spacing delay
// before its request starts, so a burst of parallel workers cannot
// violate the inter-request spacing.
type Limiter struct {
	delay time.Duration
	sem   chan struct{}

	mu   sync.Mutex
	last time.Time
}

// New creates a limiter with the given minimum spacing between request
// starts and the given concurrency cap. workers below 1 is treated as 1.
func New(delay time.Duration, workers int) *Limiter {
	if workers < 1 {
		workers = 1
	}
	return &Limiter{
		delay: delay,
		sem:   make(chan struct{}, workers),
	}
}

// Acquire blocks until a request may start. Every successful Acquire
// must be paired with Release after the request completes or fails.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.waitForSpacing(ctx); err != nil {
		<-l.sem
		return err
	}

	fipeRateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	fipeInflightRequests.Inc()
	return nil
}

// Release returns the concurrency slot taken by Acquire.
func (l *Limiter) Release() {
	fipeInflightRequests.Dec()
	<-l.sem
}

// waitForSpacing blocks until at least delay has passed since the last
// request start and claims the new start timestamp. Re-checks after
// sleeping because another worker may have claimed the slot first.
func (l *Limiter) waitForSpacing(ctx context.Context) error {
	if l.delay <= 0 {
		return nil
	}

	for {
		l.mu.Lock()
		now := time.Now()
		wait := l.delay - now.Sub(l.last)
		if wait <= 0 {
			l.last = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
