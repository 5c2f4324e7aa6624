package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fipeBudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fipe_budget_remaining",
	Help: "Requests remaining in the daily budget (full-scan runs)",
})

// ErrBudgetExhausted is returned when the daily request budget margin is
// reached. The run pauses cleanly and resumes on a later day.
var ErrBudgetExhausted = errors.New("daily request budget margin reached")

// Budget tracks consumption against a per-day call limit. A safety
// margin keeps the last few calls of the day unspent so the upstream
// quota is never fully drained.
type Budget struct {
	mu      sync.Mutex
	limit   int
	margin  int
	used    int
	dateKey string
}

// NewBudget creates a budget for the given day key (YYYY-MM-DD). used
// carries consumption already recorded for that day. A margin at or
// above the limit is clamped to limit-1.
func NewBudget(limit, margin, used int, dateKey string) *Budget {
	if limit < 0 {
		limit = 0
	}
	if margin < 0 {
		margin = 0
	}
	if margin >= limit && limit > 0 {
		margin = limit - 1
	}
	if used < 0 {
		used = 0
	}
	b := &Budget{limit: limit, margin: margin, used: used, dateKey: dateKey}
	fipeBudgetRemaining.Set(float64(b.remainingLocked()))
	return b
}

// TodayKey returns the date key for the current day.
func TodayKey() string {
	return time.Now().Format("2006-01-02")
}

func (b *Budget) remainingLocked() int {
	r := b.limit - b.used
	if r < 0 {
		return 0
	}
	return r
}

// Remaining returns the number of calls left before the limit.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked()
}

// Used returns the number of calls consumed so far today.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the daily call limit.
func (b *Budget) Limit() int {
	return b.limit
}

// DateKey returns the day this budget accounts for.
func (b *Budget) DateKey() string {
	return b.dateKey
}

// TryConsume records one call against the budget. It fails with
// ErrBudgetExhausted once remaining calls would drop to the margin.
func (b *Budget) TryConsume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remainingLocked() <= b.margin {
		return ErrBudgetExhausted
	}
	b.used++
	fipeBudgetRemaining.Set(float64(b.remainingLocked()))
	return nil
}
