// Package clock provides cancellable scheduled tasks. Components never call
// time.AfterFunc directly: they go through a Scheduler so callbacks land on the
// owning goroutine and tests can drive time by hand.
package clock

import "time"

// Timer is a scheduled task that can be cancelled.
type Timer interface {
	// Stop cancels the task. It reports whether the call prevented it from running.
	Stop() bool
}

// Scheduler runs f once after d has elapsed.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real schedules with the runtime timer and hands every callback to post, so the
// callback runs wherever post delivers it (normally an event loop).
type Real struct {
	post func(func())
}

// NewReal returns a wall-clock Scheduler. A nil post runs callbacks on the timer goroutine.
func NewReal(post func(func())) *Real {
	if post == nil {
		post = func(f func()) { f() }
	}
	return &Real{post: post}
}

func (r *Real) Now() time.Time { return time.Now() }

func (r *Real) AfterFunc(d time.Duration, f func()) Timer {
	rt := &realTimer{}
	rt.t = time.AfterFunc(d, func() {
		r.post(func() {
			// Stop may have won the race after the runtime timer fired.
			if rt.stopped {
				return
			}
			rt.stopped = true
			f()
		})
	})
	return rt
}

// realTimer.stopped is only touched on the goroutine that post delivers to.
type realTimer struct {
	t       *time.Timer
	stopped bool
}

func (rt *realTimer) Stop() bool {
	if rt.stopped {
		return false
	}
	rt.stopped = true
	rt.t.Stop()
	return true
}
