// Package activity watches Linux input devices and tracks when the user
// last touched the machine.
package activity

import (
	"sync"
	"time"
)

// Tracker records the most recent input activity timestamp. Safe for
// concurrent use by device readers and the session controller.
type Tracker struct {
	mu   sync.RWMutex
	last time.Time
}

// NewTracker returns a tracker with no activity recorded yet.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Touch records activity at the current time.
func (t *Tracker) Touch() {
	t.TouchAt(time.Now())
}

// TouchAt records activity at ts. Timestamps older than the current value
// are ignored so readers always observe a non-decreasing clock.
func (t *Tracker) TouchAt(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.After(t.last) {
		t.last = ts
	}
}

// Last returns the most recent activity time, or the zero time if no
// activity has been recorded.
func (t *Tracker) Last() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Since returns how long ago the last activity happened relative to now.
// Meaningless when Last is zero; callers should check that first.
func (t *Tracker) Since(now time.Time) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now.Sub(t.last)
}
