package signals

import (
	"time"

	"im-sync/internal/clock"
)

// Debouncer runs the most recent action once no new action has arrived for its delay.
type Debouncer struct {
	sched clock.Scheduler
	delay time.Duration
	timer clock.Timer
}

func NewDebouncer(sched clock.Scheduler, delay time.Duration) *Debouncer {
	return &Debouncer{sched: sched, delay: delay}
}

// Trigger schedules f, replacing any action still waiting.
func (d *Debouncer) Trigger(f func()) {
	d.Cancel()
	d.timer = d.sched.AfterFunc(d.delay, func() {
		d.timer = nil
		f()
	})
}

// Cancel drops the waiting action, if any.
func (d *Debouncer) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether an action is waiting.
func (d *Debouncer) Pending() bool { return d.timer != nil }
