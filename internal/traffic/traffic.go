// Package traffic keeps a short sliding log of query outcomes. Health uses it to
// detect overload (request volume) and degradation (server-side error rate).
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies one handled query.
type Outcome uint8

const (
	Success Outcome = iota // answered, including empty results and client errors
	Error                  // failed on our side: store unreachable, malformed data
	Denied                 // rejected by the rate limiter
)

// DefaultRetention bounds how far back the tracker keeps events.
const DefaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(DefaultRetention)

// RecordSuccess records an answered query.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a server-side query failure.
func RecordError() { defaultTracker.Record(Error) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns all outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.Window(window).Total()
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Window(window).Denied
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded from totalCount.
func ErrorRate(window time.Duration) (errors, total int) {
	c := defaultTracker.Window(window)
	return c.Errors, c.Errors + c.Success
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Counts summarises the outcomes inside a window.
type Counts struct {
	Success int
	Errors  int
	Denied  int
}

// Total is the number of outcomes of any kind.
func (c Counts) Total() int {
	return c.Success + c.Errors + c.Denied
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker is an append-only, time-ordered outcome log pruned to its retention.
type Tracker struct {
	mu        sync.Mutex
	events    []event
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns a Tracker that keeps events for retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Window counts outcomes recorded at or after now-window.
func (t *Tracker) Window(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	var c Counts
	// Events are time-ordered; walk back from the newest.
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].outcome {
		case Success:
			c.Success++
		case Error:
			c.Errors++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
