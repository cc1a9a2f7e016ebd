// Package history pages a conversation's messages in from the server, newest page first.
package history

import (
	"im-sync/internal/imtypes"
	"im-sync/internal/timeline"
)

// Result describes the effect of one history page.
type Result struct {
	Peer string
	// First is set for the page that replaced the timeline.
	First bool
	// Added is the change in timeline length.
	Added int
	// Next is a follow-up request issued because the page held nothing new.
	Next *imtypes.LoadHistory
	// Exhausted is set once no older history is expected.
	Exhausted bool
	// Stale is set when the page matched no outstanding request and was ignored.
	Stale bool
}

// Paginator tracks the history cursor of the focused conversation. Only one
// request is outstanding at a time. Not safe for concurrent use.
type Paginator struct {
	pageSize int
	maxEmpty int

	peer        string
	page        int
	inFlight    bool
	first       bool
	emptyStreak int
	exhausted   bool
}

// New returns a paginator requesting pageSize messages per page and giving up
// after maxEmptyPages consecutive older pages with nothing new. An empty first
// page means the conversation has no history at all.
func New(pageSize, maxEmptyPages int) *Paginator {
	if maxEmptyPages < 1 {
		maxEmptyPages = 1
	}
	return &Paginator{pageSize: pageSize, maxEmpty: maxEmptyPages}
}

func (p *Paginator) Peer() string    { return p.peer }
func (p *Paginator) Page() int       { return p.page }
func (p *Paginator) InFlight() bool  { return p.inFlight }
func (p *Paginator) Exhausted() bool { return p.exhausted }

// LoadFirstPage resets the cursor for peer and returns the request for its newest page.
func (p *Paginator) LoadFirstPage(peer string) imtypes.LoadHistory {
	p.peer = peer
	p.page = 0
	p.inFlight = true
	p.first = true
	p.emptyStreak = 0
	p.exhausted = false
	return imtypes.NewLoadHistory(peer, 0, p.pageSize)
}

// LoadOlderPage returns the request for the page after the cursor. It returns
// false when peer is not the paged conversation, its first page has not
// arrived, a request is already outstanding, or history is exhausted.
func (p *Paginator) LoadOlderPage(peer string) (imtypes.LoadHistory, bool) {
	if peer == "" || peer != p.peer || p.first || p.inFlight || p.exhausted {
		return imtypes.LoadHistory{}, false
	}
	p.page++
	p.inFlight = true
	return imtypes.NewLoadHistory(peer, p.page, p.pageSize), true
}

// Abort forgets the outstanding request, e.g. when the connection drops or the
// request could not be sent. An aborted older page will be requested again.
func (p *Paginator) Abort() {
	if !p.inFlight {
		return
	}
	p.inFlight = false
	if !p.first && p.page > 0 {
		p.page--
	}
}

// Reset forgets the paged conversation entirely.
func (p *Paginator) Reset() {
	*p = Paginator{pageSize: p.pageSize, maxEmpty: p.maxEmpty}
}

// OnPage applies a history page to tl, which must be the timeline of the paged
// conversation. pending are the still-unconfirmed entries re-attached when the
// first page replaces the timeline.
func (p *Paginator) OnPage(h imtypes.History, tl *timeline.Timeline, pending []timeline.Entry) Result {
	if !p.inFlight || (h.With != "" && h.With != p.peer) || tl == nil || tl.Peer() != p.peer {
		return Result{Peer: h.With, Stale: true}
	}
	if h.Page != nil && *h.Page != p.page {
		return Result{Peer: p.peer, Stale: true}
	}
	p.inFlight = false
	res := Result{Peer: p.peer}

	if p.first {
		p.first = false
		before := tl.Len()
		res.First = true
		res.Added = tl.Reset(h.Messages, pending) - before
		if len(h.Messages) == 0 {
			p.exhausted = true
		}
		res.Exhausted = p.exhausted
		return res
	}

	res.Added = tl.MergeOlder(h.Messages)
	if res.Added > 0 {
		p.emptyStreak = 0
		return res
	}

	// Nothing new, either an empty page or only known messages: the server may
	// have shifted pages under us, so look one further back.
	p.emptyStreak++
	if p.emptyStreak >= p.maxEmpty {
		p.exhausted = true
		res.Exhausted = true
		return res
	}
	next, _ := p.LoadOlderPage(p.peer)
	res.Next = &next
	return res
}
