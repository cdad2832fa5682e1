// Package scheduler implements control.Scheduler with time.AfterFunc,
// the standard-library analogue of POX's core.callDelayed. There is no
// third-party scheduling library in the example corpus that fits this
// narrow need (a single delayed, cancelable callback) better than the
// standard library's own timer; see DESIGN.md.
package scheduler

import (
	"sync"
	"time"
)

// Timer self-reschedules delayed callbacks and can be stopped once, which
// cancels any callback that has not yet fired. It is the Go shape of the
// teacher's goroutine+context.CancelFunc idiom
// (core/heartbeat_client.go's Start/Stop), adapted from "repeat on a
// ticker" to "run once after a delay, rearmed by the caller".
type Timer struct {
	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
}

// New returns a Timer ready to schedule callbacks on.
func New() *Timer {
	return &Timer{}
}

// ScheduleAfter runs fn once, after d elapses, unless Stop is called first.
func (t *Timer) ScheduleAfter(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// Stop cancels any pending callback and prevents future scheduling. Safe
// to call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
