package clock

import (
	"sort"
	"time"
)

// Manual is a Scheduler whose time only moves when Advance is called.
// Callbacks run synchronously inside Advance.
type Manual struct {
	now     time.Time
	seq     int
	pending []*manualTimer
}

// NewManual starts the clock at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time { return m.now }

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, f: f}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers scheduled by callbacks fire too if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		next := m.next(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.done = true
		next.f()
	}
	m.now = target
}

// Pending reports how many timers are still waiting to fire.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.pending {
		if !t.done {
			n++
		}
	}
	return n
}

func (m *Manual) next(limit time.Time) *manualTimer {
	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.done {
			live = append(live, t)
		}
	}
	m.pending = live
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].at.Equal(m.pending[j].at) {
			return m.pending[i].seq < m.pending[j].seq
		}
		return m.pending[i].at.Before(m.pending[j].at)
	})
	if len(m.pending) == 0 || m.pending[0].at.After(limit) {
		return nil
	}
	return m.pending[0]
}

type manualTimer struct {
	at   time.Time
	seq  int
	f    func()
	done bool
}

func (t *manualTimer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}
