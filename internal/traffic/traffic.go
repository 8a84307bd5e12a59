package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a recorded event.
type Outcome int

const (
	// Success is a provider lookup that returned a snapshot.
	Success Outcome = iota
	// Failure is a provider lookup that failed for any reason.
	Failure
	// Denied is an HTTP request rejected by the rate limiter.
	Denied
	numOutcomes
)

// retention bounds memory; no window longer than this is ever queried.
const retention = 5 * time.Minute

var defaultTracker Tracker

// RecordSuccess records a successful provider lookup.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a failed provider lookup.
func RecordError() { defaultTracker.Record(Failure) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(Denied, window)
}

// RequestCount returns all outcomes within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.Count(Success, window) +
		defaultTracker.Count(Failure, window) +
		defaultTracker.Count(Denied, window)
}

// ErrorRate returns (failures, successes+failures) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears the process-wide tracker. For tests.
func Reset() { defaultTracker.Reset() }

// Tracker keeps a sliding window of timestamps per outcome.
type Tracker struct {
	mu    sync.Mutex
	times [numOutcomes][]time.Time
	now   func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes not older than window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.clock().Add(-window))
}

// ErrorRate returns (failures, successes+failures) within the window.
// Denials are excluded from the denominator.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errors = countSince(t.times[Failure], cutoff)
	return errors, errors + countSince(t.times[Success], cutoff)
}

// Reset clears all outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Timestamps are appended
// in order, so the stale ones form a prefix.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
