package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"im-sync/internal/conversations"
	"im-sync/internal/engine"
	"im-sync/internal/imtypes"
	"im-sync/internal/timeline"
)

var (
	stateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	ownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

const listLimit = 10

type renderer struct {
	mu   sync.Mutex
	w    io.Writer
	self string
}

func newRenderer(w io.Writer, self string) *renderer {
	return &renderer{w: w, self: self}
}

func (r *renderer) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, s)
}

func (r *renderer) errorf(format string, args ...any) {
	r.println(errorStyle.Render("error: " + fmt.Sprintf(format, args...)))
}

// follow prints engine events until the engine stops.
func (r *renderer) follow(eng *engine.Engine) {
	for {
		select {
		case ev := <-eng.Events():
			snap, err := eng.Snapshot()
			if err != nil {
				return
			}
			if s := r.render(ev, snap); s != "" {
				r.println(s)
			}
		case <-eng.Done():
			return
		}
	}
}

// render formats one event against the state it announced.
func (r *renderer) render(ev engine.Event, snap engine.Snapshot) string {
	switch ev.Kind {
	case engine.StateChanged:
		return stateStyle.Render("● " + ev.State.String())
	case engine.ConversationsChanged:
		return r.conversations(snap.Conversations)
	case engine.TimelineChanged:
		if ev.Peer != snap.Focused || ev.Delta <= 0 {
			return ""
		}
		entries := snap.Timeline
		if ev.Delta < len(entries) {
			entries = entries[len(entries)-ev.Delta:]
		}
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = r.entry(e)
		}
		return strings.Join(lines, "\n")
	case engine.TypingChanged:
		if snap.TypingPeer == "" {
			return ""
		}
		return metaStyle.Render(snap.TypingPeer + " is typing…")
	case engine.SearchResultsChanged:
		return searchResults(snap.SearchResults)
	case engine.SessionFailed:
		return errorStyle.Render(fmt.Sprintf("session failed: %v", ev.Err))
	}
	return ""
}

func (r *renderer) entry(e timeline.Entry) string {
	who := peerStyle.Render(e.From)
	if e.From == r.self {
		who = ownStyle.Render("me")
	}
	var b strings.Builder
	if e.CreatedAt > 0 {
		b.WriteString(timestampStyle.Render(time.UnixMilli(e.CreatedAt).Format("15:04")))
		b.WriteString(" ")
	}
	b.WriteString(who)
	b.WriteString(": ")
	switch e.Type {
	case imtypes.TextMessageType:
		b.WriteString(e.Content)
	case imtypes.DeletedMessageType:
		b.WriteString(metaStyle.Render("(deleted)"))
	default:
		b.WriteString(fmt.Sprintf("[%s] %s", e.Type, e.Content))
	}
	switch {
	case e.Pending:
		b.WriteString(metaStyle.Render(" (sending)"))
	case e.Status == imtypes.StatusSeen:
		b.WriteString(metaStyle.Render(" ✓✓"))
	}
	if e.ID != "" {
		b.WriteString(metaStyle.Render(" #" + string(e.ID)))
	}
	return b.String()
}

func (r *renderer) conversations(list []conversations.Conversation) string {
	if len(list) == 0 {
		return metaStyle.Render("no conversations")
	}
	var b strings.Builder
	b.WriteString(stateStyle.Render("conversations"))
	for i, c := range list {
		if i == listLimit {
			b.WriteString(metaStyle.Render(fmt.Sprintf("\n  … %d more", len(list)-listLimit)))
			break
		}
		dot := "○"
		if c.Online {
			dot = "●"
		}
		name := c.Username
		if name == "" {
			name = c.PeerID
		}
		fmt.Fprintf(&b, "\n  %s %s", dot, peerStyle.Render(name))
		if c.Unread > 0 {
			fmt.Fprintf(&b, " (%d)", c.Unread)
		}
		if c.Preview != "" {
			b.WriteString(metaStyle.Render("  " + c.Preview))
		}
	}
	return b.String()
}

func searchResults(results []imtypes.Contact) string {
	if len(results) == 0 {
		return metaStyle.Render("no search results")
	}
	var b strings.Builder
	b.WriteString(stateStyle.Render("search results"))
	for _, c := range results {
		fmt.Fprintf(&b, "\n  %s %s", peerStyle.Render(c.Username), metaStyle.Render("/to "+c.PeerID()))
	}
	return b.String()
}
