package clock

import "time"

// Group tracks every timer created through it so they can be cancelled as a unit.
// Not safe for concurrent use; it belongs to a single owner goroutine.
type Group struct {
	s      Scheduler
	timers map[*groupTimer]struct{}
}

// NewGroup wraps s.
func NewGroup(s Scheduler) *Group {
	return &Group{s: s, timers: make(map[*groupTimer]struct{})}
}

func (g *Group) Now() time.Time { return g.s.Now() }

func (g *Group) AfterFunc(d time.Duration, f func()) Timer {
	gt := &groupTimer{g: g}
	gt.t = g.s.AfterFunc(d, func() {
		delete(g.timers, gt)
		f()
	})
	g.timers[gt] = struct{}{}
	return gt
}

// StopAll cancels every outstanding timer.
func (g *Group) StopAll() {
	for gt := range g.timers {
		gt.t.Stop()
	}
	clear(g.timers)
}

// Len reports the number of outstanding timers.
func (g *Group) Len() int { return len(g.timers) }

type groupTimer struct {
	g *Group
	t Timer
}

func (gt *groupTimer) Stop() bool {
	delete(gt.g.timers, gt)
	return gt.t.Stop()
}
