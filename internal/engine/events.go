package engine

import (
	"fmt"

	"im-sync/internal/conversations"
	"im-sync/internal/imtypes"
	"im-sync/internal/timeline"
	"im-sync/internal/websocket"
)

// EventKind tells a consumer which part of the state to re-read.
type EventKind int

const (
	StateChanged EventKind = iota
	ConversationsChanged
	TimelineChanged
	TypingChanged
	SearchResultsChanged
	SessionFailed
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "state_changed"
	case ConversationsChanged:
		return "conversations_changed"
	case TimelineChanged:
		return "timeline_changed"
	case TypingChanged:
		return "typing_changed"
	case SearchResultsChanged:
		return "search_results_changed"
	case SessionFailed:
		return "session_failed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a change notification. Events carry no state of their own beyond
// what is cheap to copy; consumers take a Snapshot to render.
type Event struct {
	Kind  EventKind
	State websocket.State // StateChanged
	Peer  string          // TimelineChanged, TypingChanged
	Delta int             // TimelineChanged: entries added
	Err   error           // SessionFailed
}

// Snapshot is a copy of everything a view renders.
type Snapshot struct {
	State         websocket.State
	Focused       string
	Conversations []conversations.Conversation
	Timeline      []timeline.Entry
	HistoryDone   bool
	TypingPeer    string
	SearchResults []imtypes.Contact
	Pending       int
	Fatal         error
}
