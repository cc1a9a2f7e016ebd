// Package timeline holds the ordered message list of the conversation on screen.
// Entries are either Pending (local, keyed by temporary id) or Confirmed (keyed
// by server id); no identity ever appears twice. Messages the server sent
// without an id get a local one so they are still shown.
package timeline

import (
	"sort"
	"strconv"
	"time"

	"im-sync/internal/imtypes"
)

// Entry is one rendered message.
type Entry struct {
	imtypes.Message
	Pending bool
	// At is when a pending entry was created locally.
	At time.Time
}

// Timeline is not safe for concurrent use.
type Timeline struct {
	peer    string
	entries []*Entry
	byID    map[imtypes.ID]*Entry
	byTemp  map[string]*Entry
	local   int
}

// New returns an empty timeline for peer.
func New(peer string) *Timeline {
	return &Timeline{
		peer:   peer,
		byID:   make(map[imtypes.ID]*Entry),
		byTemp: make(map[string]*Entry),
	}
}

// Peer is the conversation this timeline shows.
func (t *Timeline) Peer() string { return t.peer }

func (t *Timeline) Len() int { return len(t.entries) }

// Entries returns a copy of the entries in render order.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Has reports whether a confirmed entry with id exists.
func (t *Timeline) Has(id imtypes.ID) bool {
	_, ok := t.byID[id]
	return ok
}

// HasPending reports whether a pending entry with tempID exists.
func (t *Timeline) HasPending(tempID string) bool {
	_, ok := t.byTemp[tempID]
	return ok
}

// Reset replaces the whole timeline with msgs (sorted oldest first, duplicates
// dropped) followed by the still-pending entries. A pending entry whose tempId
// is carried by one of msgs is already confirmed and is left out. It returns
// the new length.
func (t *Timeline) Reset(msgs []imtypes.Message, pending []Entry) int {
	t.entries = t.entries[:0]
	clear(t.byID)
	clear(t.byTemp)

	confirmed := make(map[string]bool)
	for _, m := range sortedCopy(msgs) {
		if m.TempID != "" {
			confirmed[m.TempID] = true
		}
		if m.ID != "" && t.Has(m.ID) {
			continue
		}
		t.push(&Entry{Message: t.identify(m)})
	}
	for _, p := range pending {
		if confirmed[p.TempID] {
			continue
		}
		t.AppendPending(p)
	}
	return len(t.entries)
}

// AppendPending adds a local entry at the tail.
func (t *Timeline) AppendPending(e Entry) bool {
	if e.TempID == "" || t.HasPending(e.TempID) {
		return false
	}
	e.Pending = true
	t.push(&e)
	return true
}

// Append adds a confirmed message. Live messages are newest, so they go after
// every confirmed entry but ahead of local entries still waiting for their echo.
func (t *Timeline) Append(m imtypes.Message) bool {
	if m.ID != "" && t.Has(m.ID) {
		return false
	}
	e := &Entry{Message: t.identify(m)}
	pos := len(t.entries)
	for i, cur := range t.entries {
		if cur.Pending {
			pos = i
			break
		}
	}
	t.insert(pos, e)
	return true
}

// Promote turns the pending entry tempID into the confirmed m, keeping its position.
// If m is already present as a confirmed entry the pending one is removed instead.
// An echo without an id confirms the entry under a local id.
func (t *Timeline) Promote(tempID string, m imtypes.Message) bool {
	e, ok := t.byTemp[tempID]
	if !ok {
		return false
	}
	delete(t.byTemp, tempID)
	if m.ID != "" && t.Has(m.ID) {
		t.remove(e)
		return true
	}
	m = t.identify(m)
	e.Message = m
	e.Pending = false
	t.byID[m.ID] = e
	return true
}

// MergeOlder merges a page of older messages at the head and returns how many
// were novel. Messages whose tempId matches a pending entry promote it rather
// than count as novel.
func (t *Timeline) MergeOlder(msgs []imtypes.Message) int {
	novel := 0
	last := -1
	for _, m := range sortedCopy(msgs) {
		if m.ID != "" && t.Has(m.ID) {
			continue
		}
		if m.TempID != "" && t.HasPending(m.TempID) {
			t.Promote(m.TempID, m)
			continue
		}
		m = t.identify(m)
		pos := last + 1
		for pos < len(t.entries) && !t.entries[pos].Pending && before(t.entries[pos].Message, m) {
			pos++
		}
		t.insert(pos, &Entry{Message: m})
		last = pos
		novel++
	}
	return novel
}

// MarkDeleted blanks confirmed entries whose id is in ids. Pending entries are never matched.
func (t *Timeline) MarkDeleted(ids []imtypes.ID) int {
	n := 0
	for _, id := range ids {
		e, ok := t.byID[id]
		if !ok || e.Type == imtypes.DeletedMessageType {
			continue
		}
		e.Type = imtypes.DeletedMessageType
		e.Content = ""
		n++
	}
	return n
}

// MarkSeen marks every confirmed message sent by self as seen.
func (t *Timeline) MarkSeen(self string) int {
	n := 0
	for _, e := range t.entries {
		if e.Pending || e.From != self || e.Status == imtypes.StatusSeen {
			continue
		}
		e.Status = imtypes.StatusSeen
		n++
	}
	return n
}

// identify gives m a local id when the server sent none.
func (t *Timeline) identify(m imtypes.Message) imtypes.Message {
	if m.ID == "" {
		t.local++
		m.ID = imtypes.LocalID(t.peer + "/" + strconv.Itoa(t.local))
	}
	return m
}

func (t *Timeline) push(e *Entry) { t.insert(len(t.entries), e) }

func (t *Timeline) insert(pos int, e *Entry) {
	t.entries = append(t.entries, nil)
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = e
	if e.Pending {
		t.byTemp[e.TempID] = e
	} else {
		t.byID[e.ID] = e
	}
}

func (t *Timeline) remove(target *Entry) {
	for i, e := range t.entries {
		if e == target {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// before orders by creation time when both sides carry one, then by numeric id.
// Messages with neither are unordered and keep their arrival order.
func before(a, b imtypes.Message) bool {
	if a.CreatedAt != 0 && b.CreatedAt != 0 && a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	ai, aok := a.ID.Int()
	bi, bok := b.ID.Int()
	if aok && bok {
		return ai < bi
	}
	return false
}

func sortedCopy(msgs []imtypes.Message) []imtypes.Message {
	out := make([]imtypes.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}
