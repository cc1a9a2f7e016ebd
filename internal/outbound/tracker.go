// Package outbound tracks optimistic messages between send and server echo.
package outbound

import (
	"sort"
	"time"

	"im-sync/internal/imtypes"
	"im-sync/internal/timeline"

	"github.com/google/uuid"
)

// recentCapacity bounds how many server ids are remembered for duplicate detection.
const recentCapacity = 4096

// Pending is a message sent locally whose echo has not arrived yet.
type Pending struct {
	TempID    string
	Message   imtypes.Message
	CreatedAt time.Time
}

// Entry converts p into a timeline entry.
func (p Pending) Entry() timeline.Entry {
	return timeline.Entry{Message: p.Message, Pending: true, At: p.CreatedAt}
}

// Outcome says what Reconcile did with an inbound chat frame.
type Outcome int

const (
	// Appended: a new confirmed message was added to the shown timeline.
	Appended Outcome = iota
	// Promoted: a pending message was replaced by its confirmation.
	Promoted
	// Duplicate: the server id was already processed; the frame must be discarded.
	Duplicate
	// Offscreen: a new message for a conversation that is not shown.
	Offscreen
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Promoted:
		return "promoted"
	case Duplicate:
		return "duplicate"
	case Offscreen:
		return "offscreen"
	}
	return "unknown"
}

// Tracker is not safe for concurrent use.
type Tracker struct {
	pending map[string]*Pending
	recent  *idRing
	now     func() time.Time
	newID   func() string
}

// NewTracker returns an empty tracker. Temporary ids are random UUIDs.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{
		pending: make(map[string]*Pending),
		recent:  newIDRing(recentCapacity),
		now:     now,
		newID:   uuid.NewString,
	}
}

// WithIDs replaces the temporary id generator.
func (t *Tracker) WithIDs(next func() string) *Tracker {
	t.newID = next
	return t
}

// CreatePending registers a new outbound message and returns it.
func (t *Tracker) CreatePending(sender, recipient string, kind imtypes.MessageType, content string) Pending {
	tempID := t.newID()
	for t.pending[tempID] != nil {
		tempID = t.newID()
	}
	now := t.now()
	p := &Pending{
		TempID: tempID,
		Message: imtypes.Message{
			Type:      kind,
			TempID:    tempID,
			From:      sender,
			To:        recipient,
			Content:   content,
			Status:    imtypes.StatusSent,
			CreatedAt: now.UnixMilli(),
		},
		CreatedAt: now,
	}
	t.pending[tempID] = p
	return *p
}

func (t *Tracker) Get(tempID string) (Pending, bool) {
	p, ok := t.pending[tempID]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

func (t *Tracker) Len() int { return len(t.pending) }

// PendingFor returns the unconfirmed messages addressed to peer, oldest first.
func (t *Tracker) PendingFor(peer string) []Pending {
	var out []Pending
	for _, p := range t.pending {
		if p.Message.To == peer {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Entries returns PendingFor(peer) as timeline entries.
func (t *Tracker) Entries(peer string) []timeline.Entry {
	ps := t.PendingFor(peer)
	out := make([]timeline.Entry, len(ps))
	for i, p := range ps {
		out[i] = p.Entry()
	}
	return out
}

// Reconcile applies an inbound chat frame. tl is the timeline on screen (may be
// nil) and self the local user's wire identity.
func (t *Tracker) Reconcile(tl *timeline.Timeline, self string, m imtypes.Message) Outcome {
	if m.ID != "" && t.recent.contains(m.ID) {
		// A replay can still carry the tempId of an entry we hold.
		t.dropPending(tl, m)
		return Duplicate
	}
	if m.ID != "" {
		t.recent.add(m.ID)
	}

	shown := tl != nil && tl.Peer() == m.Peer(self)
	if m.TempID != "" {
		if _, ok := t.pending[m.TempID]; ok {
			delete(t.pending, m.TempID)
			if shown && tl.Promote(m.TempID, m) {
				return Promoted
			}
			if shown && tl.Append(m) {
				return Promoted
			}
			if shown {
				return Duplicate
			}
			return Offscreen
		}
	}
	if !shown {
		return Offscreen
	}
	if !tl.Append(m) {
		return Duplicate
	}
	return Appended
}

// Remember records server ids that arrived through history so later live
// replays of them are recognized. Pending messages whose tempId a history
// message carries are confirmed by it and stop being tracked.
func (t *Tracker) Remember(msgs []imtypes.Message) {
	for _, m := range msgs {
		if m.ID != "" && !t.recent.contains(m.ID) {
			t.recent.add(m.ID)
		}
		if m.TempID != "" {
			delete(t.pending, m.TempID)
		}
	}
}

func (t *Tracker) dropPending(tl *timeline.Timeline, m imtypes.Message) {
	if m.TempID == "" {
		return
	}
	if _, ok := t.pending[m.TempID]; !ok {
		return
	}
	delete(t.pending, m.TempID)
	if tl != nil {
		tl.Promote(m.TempID, m)
	}
}

// idRing is a fixed-size FIFO set of ids.
type idRing struct {
	ids  []imtypes.ID
	set  map[imtypes.ID]struct{}
	next int
}

func newIDRing(n int) *idRing {
	return &idRing{ids: make([]imtypes.ID, 0, n), set: make(map[imtypes.ID]struct{}, n)}
}

func (r *idRing) contains(id imtypes.ID) bool {
	_, ok := r.set[id]
	return ok
}

func (r *idRing) add(id imtypes.ID) {
	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % len(r.ids)
	}
	r.set[id] = struct{}{}
}
