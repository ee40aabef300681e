// Package budget tracks daily call quotas of external sources.
//
// Providers such as Scopus or ORCID grant a fixed number of calls per day.
// The Tracker counts calls per source and refuses new ones once the daily
// limit is used up, until the next local midnight.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExhausted is wrapped by QuotaError.
var ErrExhausted = errors.New("daily quota exhausted")

// QuotaError is returned when a source has used its daily quota.
type QuotaError struct {
	Source  string
	Limit   int
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %d calls used, resets at %s", e.Source, e.Limit, e.ResetAt.Format(time.RFC3339))
}

func (e *QuotaError) Unwrap() error { return ErrExhausted }

// UsageStats holds quota usage statistics.
type UsageStats struct {
	TotalCalls      int       `json:"total_calls"`
	CallsPerHour    int       `json:"calls_per_hour"`
	DailyLimit      int       `json:"daily_limit"`
	RemainingCalls  int       `json:"remaining_calls"`
	UsagePercentage float64   `json:"usage_percentage"`
	NextResetAt     time.Time `json:"next_reset_at"`
}

type sourceBudget struct {
	dailyLimit    int
	totalCalls    int
	callsThisHour int
	hourStartTime time.Time
}

// Tracker counts calls per source against a daily limit.
// A source without a limit is never refused.
type Tracker struct {
	mu        sync.Mutex
	usage     map[string]*sourceBudget
	resetTime time.Time
	now       func() time.Time
}

// NewTracker creates a tracker whose counters reset at local midnight.
func NewTracker() *Tracker {
	t := &Tracker{
		usage: make(map[string]*sourceBudget),
		now:   time.Now,
	}
	t.resetTime = nextMidnight(t.now())
	return t
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

// SetLimit sets the daily limit of a source. Zero removes the limit.
func (t *Tracker) SetLimit(source string, dailyLimit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budget(source).dailyLimit = dailyLimit
}

// Reserve records a call, or returns a *QuotaError when the source has no
// calls left today.
func (t *Tracker) Reserve(source string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeReset()
	b := t.budget(source)
	if b.dailyLimit > 0 && b.totalCalls >= b.dailyLimit {
		return &QuotaError{Source: source, Limit: b.dailyLimit, ResetAt: t.resetTime}
	}
	t.record(b)
	return nil
}

// RecordCall records a call without checking the limit.
func (t *Tracker) RecordCall(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeReset()
	t.record(t.budget(source))
}

// CanMakeCall reports whether the source has calls left today.
func (t *Tracker) CanMakeCall(source string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeReset()
	b := t.budget(source)
	return b.dailyLimit <= 0 || b.totalCalls < b.dailyLimit
}

// Usage returns usage statistics for a source.
func (t *Tracker) Usage(source string) UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeReset()
	b := t.budget(source)

	stats := UsageStats{
		TotalCalls:   b.totalCalls,
		CallsPerHour: b.callsThisHour,
		DailyLimit:   b.dailyLimit,
		NextResetAt:  t.resetTime,
	}
	if b.dailyLimit > 0 {
		stats.RemainingCalls = max(b.dailyLimit-b.totalCalls, 0)
		stats.UsagePercentage = float64(b.totalCalls) / float64(b.dailyLimit) * 100
	}
	return stats
}

// Reset clears all usage counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetUnsafe()
}

func (t *Tracker) budget(source string) *sourceBudget {
	b, ok := t.usage[source]
	if !ok {
		b = &sourceBudget{hourStartTime: t.now()}
		t.usage[source] = b
	}
	return b
}

func (t *Tracker) record(b *sourceBudget) {
	if t.now().Sub(b.hourStartTime) >= time.Hour {
		b.callsThisHour = 0
		b.hourStartTime = t.now()
	}
	b.totalCalls++
	b.callsThisHour++
}

func (t *Tracker) maybeReset() {
	if !t.now().Before(t.resetTime) {
		t.resetUnsafe()
	}
}

func (t *Tracker) resetUnsafe() {
	now := t.now()
	for _, b := range t.usage {
		b.totalCalls = 0
		b.callsThisHour = 0
		b.hourStartTime = now
	}
	t.resetTime = nextMidnight(now)
}
