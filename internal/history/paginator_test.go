package history

import (
	"fmt"
	"testing"

	"im-sync/internal/imtypes"
	"im-sync/internal/timeline"
)

func page(ids ...int) imtypes.History {
	h := imtypes.History{Type: imtypes.HistoryFrame}
	for _, id := range ids {
		h.Messages = append(h.Messages, imtypes.Message{
			Type: imtypes.TextMessageType, ID: imtypes.ID(fmt.Sprint(id)), From: "u2", To: "me", Content: "m",
		})
	}
	return h
}

func TestFirstPageReplacesTimeline(t *testing.T) {
	p := New(20, 3)
	tl := timeline.New("u2")
	tl.Append(imtypes.Message{ID: "999", From: "u2", To: "me"})

	req := p.LoadFirstPage("u2")
	if req.With != "u2" || req.Page != 0 || req.PageSize != 20 || req.Type != imtypes.LoadHistoryFrame {
		t.Fatalf("request = %+v", req)
	}
	pending := []timeline.Entry{{Message: imtypes.Message{TempID: "tmp-1", From: "me", To: "u2"}}}
	res := p.OnPage(page(10, 11, 12), tl, pending)
	if !res.First || res.Stale {
		t.Fatalf("result = %+v", res)
	}
	if tl.Len() != 4 || tl.Has("999") || !tl.HasPending("tmp-1") {
		t.Errorf("timeline = %+v", tl.Entries())
	}
	if res.Added != 3 {
		t.Errorf("Added = %d, want 3", res.Added)
	}
}

func TestOlderPageMergesAtHead(t *testing.T) {
	p := New(3, 3)
	tl := timeline.New("u2")
	p.LoadFirstPage("u2")
	p.OnPage(page(10, 11, 12), tl, nil)

	req, ok := p.LoadOlderPage("u2")
	if !ok || req.Page != 1 {
		t.Fatalf("LoadOlderPage = %+v, %v", req, ok)
	}
	if _, again := p.LoadOlderPage("u2"); again {
		t.Error("second request issued while one is in flight")
	}
	res := p.OnPage(page(7, 8, 9), tl, nil)
	if res.Added != 3 || res.Next != nil || res.Exhausted {
		t.Errorf("result = %+v", res)
	}
	if first := tl.Entries()[0]; first.ID != "7" {
		t.Errorf("head = %s, want 7", first.ID)
	}
}

func TestEmptyOlderPageAdvancesAutomatically(t *testing.T) {
	p := New(3, 3)
	tl := timeline.New("u2")
	p.LoadFirstPage("u2")
	p.OnPage(page(10, 11, 12), tl, nil)
	p.LoadOlderPage("u2")

	// Page 1 holds only messages already shown.
	res := p.OnPage(page(10, 11, 12), tl, nil)
	if res.Added != 0 {
		t.Fatalf("Added = %d", res.Added)
	}
	if res.Next == nil || res.Next.Page != 2 || res.Next.With != "u2" {
		t.Fatalf("Next = %+v, want a request for page 2", res.Next)
	}
	if !p.InFlight() {
		t.Error("follow-up request not marked in flight")
	}

	res = p.OnPage(page(4, 5, 6), tl, nil)
	if res.Added != 3 || res.Next != nil {
		t.Errorf("page 2 result = %+v", res)
	}
}

func TestConsecutiveEmptyPagesAreBounded(t *testing.T) {
	p := New(3, 3)
	tl := timeline.New("u2")
	p.LoadFirstPage("u2")
	p.OnPage(page(10, 11, 12), tl, nil)
	p.LoadOlderPage("u2")

	requests := 0
	var res Result
	for i := 0; i < 10; i++ {
		res = p.OnPage(page(10, 11, 12), tl, nil)
		if res.Next == nil {
			break
		}
		requests++
	}
	if requests != 2 {
		t.Errorf("follow-up requests = %d, want 2", requests)
	}
	if !res.Exhausted || !p.Exhausted() {
		t.Error("paginator not exhausted after the empty-page bound")
	}
	if _, ok := p.LoadOlderPage("u2"); ok {
		t.Error("LoadOlderPage succeeded after exhaustion")
	}
}

func TestEmptyOlderPagesAreBounded(t *testing.T) {
	p := New(3, 3)
	tl := timeline.New("u2")
	p.LoadFirstPage("u2")
	p.OnPage(page(10), tl, nil)
	p.LoadOlderPage("u2")

	res := p.OnPage(page(), tl, nil)
	if res.Exhausted || res.Next == nil || res.Next.Page != 2 {
		t.Fatalf("first empty page result = %+v, want a request for page 2", res)
	}
	res = p.OnPage(page(), tl, nil)
	if res.Exhausted || res.Next == nil || res.Next.Page != 3 {
		t.Fatalf("second empty page result = %+v, want a request for page 3", res)
	}
	res = p.OnPage(page(), tl, nil)
	if !res.Exhausted || res.Next != nil || !p.Exhausted() {
		t.Errorf("third empty page result = %+v, want exhausted", res)
	}
}

func TestEmptyFirstPageEndsHistory(t *testing.T) {
	p := New(3, 3)
	p.LoadFirstPage("u2")
	if res := p.OnPage(page(), timeline.New("u2"), nil); !res.Exhausted || res.Next != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestStalePages(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *Paginator)
		frame imtypes.History
	}{
		{"nothing requested", func(p *Paginator) {}, page(1)},
		{"other peer", func(p *Paginator) { p.LoadFirstPage("u2") }, imtypes.History{With: "u3"}},
		{"aborted", func(p *Paginator) { p.LoadFirstPage("u2"); p.Abort() }, page(1)},
		{"wrong page index", func(p *Paginator) { p.LoadFirstPage("u2") }, imtypes.History{With: "u2", Page: intPtr(4)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(3, 3)
			tt.setup(p)
			tl := timeline.New("u2")
			if res := p.OnPage(tt.frame, tl, nil); !res.Stale {
				t.Errorf("result = %+v, want stale", res)
			}
			if tl.Len() != 0 {
				t.Error("stale page modified the timeline")
			}
		})
	}
}

func TestLoadOlderPageRequiresPagedPeer(t *testing.T) {
	p := New(3, 3)
	if _, ok := p.LoadOlderPage("u2"); ok {
		t.Error("older page without a first page")
	}
	p.LoadFirstPage("u2")
	p.Abort()
	if _, ok := p.LoadOlderPage("u2"); ok {
		t.Error("older page before the first page arrived")
	}
	p.LoadFirstPage("u2")
	p.OnPage(page(10), timeline.New("u2"), nil)
	if _, ok := p.LoadOlderPage("u3"); ok {
		t.Error("older page for a different peer")
	}
	p.Reset()
	if p.Peer() != "" || p.InFlight() {
		t.Error("Reset left state behind")
	}
}

func intPtr(n int) *int { return &n }

func TestAbortRewindsOlderPage(t *testing.T) {
	p := New(3, 3)
	p.LoadFirstPage("u2")
	p.OnPage(page(10, 11, 12), timeline.New("u2"), nil)

	req, _ := p.LoadOlderPage("u2")
	if req.Page != 1 {
		t.Fatalf("page = %d", req.Page)
	}
	p.Abort()
	req, ok := p.LoadOlderPage("u2")
	if !ok || req.Page != 1 {
		t.Errorf("retry = %+v, %v, want page 1 again", req, ok)
	}
}
