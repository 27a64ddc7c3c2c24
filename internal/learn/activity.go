// Package learn implements the background self-study loop and the
// slower curation pass that audits what the loop has written.
package learn

import (
	"sync/atomic"
	"time"
)

// Activity tracks the last real user interaction. The HTTP path calls
// Touch on every request; the loop checks IdleSince before doing work so
// background research yields to live traffic.
//
// The value is advisory throttling, not correctness-critical, but the
// atomic keeps it race-free.
type Activity struct {
	lastNanos atomic.Int64
}

// NewActivity returns a tracker with no recorded interaction.
func NewActivity() *Activity {
	return &Activity{}
}

// Touch records a user interaction at the current time.
func (a *Activity) Touch() {
	a.lastNanos.Store(time.Now().UnixNano())
}

// IdleSince reports whether at least d has elapsed since the last user
// interaction. True when no interaction was ever recorded.
func (a *Activity) IdleSince(d time.Duration) bool {
	last := a.lastNanos.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= d
}
