// Package engine ties the transport, outbound tracker, conversation store,
// history paginator and signal router into one client session. Core holds the
// state and must only be touched from one goroutine; Engine provides that
// goroutine.
package engine

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"im-sync/internal/auth"
	"im-sync/internal/clock"
	"im-sync/internal/config"
	"im-sync/internal/conversations"
	"im-sync/internal/history"
	"im-sync/internal/imtypes"
	"im-sync/internal/obs"
	"im-sync/internal/outbound"
	"im-sync/internal/signals"
	"im-sync/internal/timeline"
	"im-sync/internal/websocket"
)

// Transport is the part of websocket.Manager the core drives.
type Transport interface {
	Connect(s *auth.Session)
	Send(f imtypes.Frame) error
	State() websocket.State
	Close()
}

// Options configures a Core.
type Options struct {
	ContactsPageSize     int
	HistoryPageSize      int
	MaxEmptyHistoryPages int
	TypingExpiry         time.Duration
	TypingThrottle       time.Duration
	SearchDebounce       time.Duration
	DefaultAvatar        string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ContactsPageSize:     cfg.Paging.ContactsPageSize,
		HistoryPageSize:      cfg.Paging.HistoryPageSize,
		MaxEmptyHistoryPages: cfg.Paging.MaxEmptyHistoryPages,
		TypingExpiry:         cfg.Signals.TypingExpiry,
		TypingThrottle:       cfg.Signals.TypingThrottle,
		SearchDebounce:       cfg.Signals.SearchDebounce,
		DefaultAvatar:        cfg.Backend.DefaultAvatar,
	}
}

// Core is the session state machine. It implements websocket.Handler.
type Core struct {
	opts      Options
	logger    *slog.Logger
	timers    *clock.Group
	transport Transport
	emit      func(Event)

	session      *auth.Session
	focused      string
	contactsPage int
	fatal        error

	tracker  *outbound.Tracker
	store    *conversations.Store
	timeline *timeline.Timeline
	pager    *history.Paginator
	router   *signals.Router
	search   *signals.Debouncer
	results  []imtypes.Contact

	handlers map[imtypes.FrameType]func(imtypes.Frame)
}

// NewCore returns a core whose timers run on timers. emit receives every
// change notification; it may be nil. SetTransport must be called before use.
func NewCore(opts Options, timers *clock.Group, logger *slog.Logger, emit func(Event)) *Core {
	if emit == nil {
		emit = func(Event) {}
	}
	if opts.DefaultAvatar == "" {
		opts.DefaultAvatar = conversations.DefaultAvatar
	}
	c := &Core{
		opts:    opts,
		logger:  obs.OrDiscard(logger),
		timers:  timers,
		emit:    emit,
		tracker: outbound.NewTracker(timers.Now),
		store:   conversations.NewStore(opts.DefaultAvatar, timers.Now),
		pager:   history.New(opts.HistoryPageSize, opts.MaxEmptyHistoryPages),
		search:  signals.NewDebouncer(timers, opts.SearchDebounce),
	}
	c.router = signals.NewRouter(signals.Config{
		TypingExpiry:   opts.TypingExpiry,
		TypingThrottle: opts.TypingThrottle,
	}, timers, func(peer string) {
		c.emit(Event{Kind: TypingChanged, Peer: peer})
	})
	c.handlers = c.dispatchTable()
	return c
}

// SetTransport wires the transport. The transport usually needs the core as
// its handler, hence the two-step construction.
func (c *Core) SetTransport(t Transport) { c.transport = t }

// dispatchTable maps every inbound frame type to its handler.
func (c *Core) dispatchTable() map[imtypes.FrameType]func(imtypes.Frame) {
	table := map[imtypes.FrameType]func(imtypes.Frame){
		imtypes.ContactsFrame:       func(f imtypes.Frame) { c.onContacts(f.(*imtypes.Contacts)) },
		imtypes.HistoryFrame:        func(f imtypes.Frame) { c.onHistory(f.(*imtypes.History)) },
		imtypes.TypingFrame:         func(f imtypes.Frame) { c.onTyping(f.(*imtypes.Typing)) },
		imtypes.SeenFrame:           func(f imtypes.Frame) { c.onSeen(f.(*imtypes.Seen)) },
		imtypes.SetOnlineFrame:      func(f imtypes.Frame) { c.onPresence(f.(*imtypes.Presence)) },
		imtypes.SetOfflineFrame:     func(f imtypes.Frame) { c.onPresence(f.(*imtypes.Presence)) },
		imtypes.DeleteMessageFrame:  func(f imtypes.Frame) { c.onDeleted(f.(*imtypes.DeleteMessage)) },
		imtypes.MessageDeletedFrame: func(f imtypes.Frame) { c.onDeleted(f.(*imtypes.DeleteMessage)) },
		imtypes.SearchResultsFrame:  func(f imtypes.Frame) { c.onSearchResults(f.(*imtypes.SearchResults)) },
		imtypes.AvatarChangedFrame:  func(f imtypes.Frame) { c.onAvatarChanged(f.(*imtypes.AvatarChanged)) },
	}
	for _, kind := range imtypes.ChatMessageTypes {
		table[imtypes.FrameType(kind)] = func(f imtypes.Frame) { c.onChat(f.(*imtypes.Message)) }
	}
	return table
}

func (c *Core) self() string {
	if c.session == nil {
		return ""
	}
	return c.session.Self()
}

func (c *Core) connected() bool {
	return c.transport != nil && c.transport.State() == websocket.Open
}

// send writes f and logs failures. Callers that must surface the error use
// transport.Send directly.
func (c *Core) send(f imtypes.Frame) bool {
	if err := c.transport.Send(f); err != nil {
		c.logger.Warn("send failed", "type", f.FrameType(), "error", err)
		return false
	}
	return true
}

// --- websocket.Handler ---

func (c *Core) OnOpen() {
	c.contactsPage = 0
	c.send(imtypes.NewLoadContacts(0, c.opts.ContactsPageSize, c.self()))
	if c.focused != "" {
		// Reload the first page of the focused conversation after a reconnect.
		c.requestFirstPage()
		c.send(imtypes.NewSeen(c.focused))
	}
}

func (c *Core) OnFrame(f imtypes.Frame) {
	h, ok := c.handlers[f.FrameType()]
	if !ok {
		c.logger.Debug("no handler for frame", "type", f.FrameType())
		return
	}
	h(f)
}

func (c *Core) OnStateChange(s websocket.State) {
	if s != websocket.Open {
		c.pager.Abort()
	}
	c.emit(Event{Kind: StateChanged, State: s})
}

func (c *Core) OnFatal(err error) {
	c.logger.Error("session failed", "error", err)
	c.fatal = err
	c.search.Cancel()
	c.emit(Event{Kind: SessionFailed, Err: err})
}

// --- inbound frames ---

func (c *Core) onContacts(f *imtypes.Contacts) {
	added := c.store.ApplyContactsPage(f.Contacts, c.focused)
	c.router.ReplayPresence(c.store, added)
	c.logger.Debug("contacts page applied", "entries", len(f.Contacts), "new", len(added))
	c.emit(Event{Kind: ConversationsChanged})
}

func (c *Core) onHistory(f *imtypes.History) {
	res := c.pager.OnPage(*f, c.timeline, c.tracker.Entries(c.focused))
	if res.Stale {
		c.logger.Debug("stale history page dropped", "with", f.With, "messages", len(f.Messages))
		return
	}
	c.tracker.Remember(f.Messages)
	if res.Next != nil && !c.send(*res.Next) {
		c.pager.Abort()
	}
	c.emit(Event{Kind: TimelineChanged, Peer: res.Peer, Delta: res.Added})
}

func (c *Core) onChat(m *imtypes.Message) {
	self := c.self()
	outcome := c.tracker.Reconcile(c.timeline, self, *m)
	if outcome == outbound.Duplicate {
		c.logger.Debug("duplicate chat frame", "id", m.ID, "tempId", m.TempID)
		if m.TempID != "" {
			c.emit(Event{Kind: TimelineChanged, Peer: m.Peer(self)})
		}
		return
	}

	if m.From == self {
		c.store.ApplyOutboundMessage(*m)
	} else {
		c.store.ApplyInboundMessage(*m, c.focused)
		if m.From == c.focused {
			c.send(imtypes.NewSeen(m.From))
		}
	}
	c.emit(Event{Kind: ConversationsChanged})

	switch outcome {
	case outbound.Appended:
		c.emit(Event{Kind: TimelineChanged, Peer: m.Peer(self), Delta: 1})
	case outbound.Promoted:
		c.emit(Event{Kind: TimelineChanged, Peer: m.Peer(self)})
	}
}

func (c *Core) onTyping(f *imtypes.Typing) {
	if f.From == "" || f.From == c.self() {
		return
	}
	c.router.OnTyping(f.From)
}

func (c *Core) onSeen(f *imtypes.Seen) {
	peer := f.Peer()
	if peer == "" || peer == c.self() {
		return
	}
	n := c.router.OnSeen(c.timeline, c.store, c.self(), peer)
	c.emit(Event{Kind: ConversationsChanged})
	if n > 0 {
		c.emit(Event{Kind: TimelineChanged, Peer: peer})
	}
}

func (c *Core) onPresence(f *imtypes.Presence) {
	if c.router.OnPresence(c.store, f.From, f.Online()) {
		c.emit(Event{Kind: ConversationsChanged})
	}
}

func (c *Core) onDeleted(f *imtypes.DeleteMessage) {
	if n := c.router.OnDeletion(c.timeline, f.MessageIDs); n > 0 {
		c.emit(Event{Kind: TimelineChanged, Peer: c.focused})
	}
}

func (c *Core) onSearchResults(f *imtypes.SearchResults) {
	results := make([]imtypes.Contact, 0, len(f.Contacts))
	for _, ct := range f.Contacts {
		if ct.PeerID() == "" {
			continue
		}
		if ct.Avatar == "" {
			ct.Avatar = c.opts.DefaultAvatar
		}
		results = append(results, ct)
	}
	c.results = results
	c.emit(Event{Kind: SearchResultsChanged})
}

func (c *Core) onAvatarChanged(f *imtypes.AvatarChanged) {
	if c.router.OnAvatarChanged(c.store, f.From, f.Avatar) {
		c.emit(Event{Kind: ConversationsChanged})
	}
}

// --- commands ---

// Start connects s. A previous session is replaced.
func (c *Core) Start(s *auth.Session) {
	if c.session != nil && c.session != s {
		c.resetSession()
	}
	c.session = s
	c.fatal = nil
	c.transport.Connect(s)
}

// Focus makes peer the conversation on screen: its unread count resets, a
// fresh timeline holding the peer's pending messages replaces the old one, and
// the first history page is requested.
func (c *Core) Focus(peer string) {
	if peer == "" {
		return
	}
	if peer == c.focused {
		if c.store.SetFocus(peer) {
			c.emit(Event{Kind: ConversationsChanged})
		}
		return
	}
	c.focused = peer
	c.store.SetFocus(peer)
	c.timeline = timeline.New(peer)
	for _, e := range c.tracker.Entries(peer) {
		c.timeline.AppendPending(e)
	}
	c.pager.Reset()
	c.emit(Event{Kind: ConversationsChanged})
	c.emit(Event{Kind: TimelineChanged, Peer: peer})

	if c.connected() {
		c.requestFirstPage()
		c.send(imtypes.NewSeen(peer))
	}
}

func (c *Core) requestFirstPage() {
	if !c.send(c.pager.LoadFirstPage(c.focused)) {
		c.pager.Abort()
	}
}

// SendMessage sends content of the given kind to the focused peer and returns
// the temporary id of the pending entry. Blank content or no focused
// conversation is a no-op.
func (c *Core) SendMessage(kind imtypes.MessageType, content string) (string, error) {
	content = strings.TrimSpace(content)
	if c.focused == "" || content == "" {
		return "", nil
	}
	if !c.connected() {
		return "", &SendError{Peer: c.focused, Err: websocket.ErrNotConnected}
	}

	p := c.tracker.CreatePending(c.self(), c.focused, kind, content)
	c.timeline.AppendPending(p.Entry())
	c.store.ApplyOutboundMessage(p.Message)
	c.emit(Event{Kind: TimelineChanged, Peer: c.focused, Delta: 1})
	c.emit(Event{Kind: ConversationsChanged})

	if err := c.transport.Send(p.Message); err != nil {
		c.logger.Warn("chat frame not sent", "tempId", p.TempID, "to", c.focused, "error", err)
		return p.TempID, &SendError{TempID: p.TempID, Peer: c.focused, Err: err}
	}
	return p.TempID, nil
}

// LoadOlder requests the page before the oldest loaded one. It does nothing
// while a page is in flight or history is exhausted.
func (c *Core) LoadOlder() error {
	if c.focused == "" {
		return nil
	}
	if !c.connected() {
		return websocket.ErrNotConnected
	}
	req, ok := c.pager.LoadOlderPage(c.focused)
	if !ok {
		return nil
	}
	if err := c.transport.Send(req); err != nil {
		c.pager.Abort()
		return err
	}
	return nil
}

// LoadMoreContacts requests the next contacts page.
func (c *Core) LoadMoreContacts() error {
	if !c.connected() {
		return websocket.ErrNotConnected
	}
	c.contactsPage++
	if err := c.transport.Send(imtypes.NewLoadContacts(c.contactsPage, c.opts.ContactsPageSize, c.self())); err != nil {
		c.contactsPage--
		return err
	}
	return nil
}

// NotifyTyping tells the focused peer we are typing, at most once per throttle
// window. Typing is best effort: nothing is reported when it cannot be sent.
func (c *Core) NotifyTyping() {
	if c.focused == "" || !c.connected() {
		return
	}
	if c.router.AllowTypingEmit() {
		c.send(imtypes.NewTyping(c.focused))
	}
}

// Search schedules a contact search for query once input settles. An empty
// query cancels the pending search and clears the results.
func (c *Core) Search(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.search.Cancel()
		if c.results != nil {
			c.results = nil
			c.emit(Event{Kind: SearchResultsChanged})
		}
		return
	}
	c.search.Trigger(func() {
		if c.connected() {
			c.send(imtypes.NewSearchContacts(query))
		}
	})
}

// DeleteMessages asks the server to delete confirmed messages of the focused
// conversation. Ids not in the timeline, local ids and pending entries are skipped; the
// timeline changes only when the server's message_deleted arrives.
func (c *Core) DeleteMessages(ids []imtypes.ID) error {
	if c.focused == "" || c.timeline == nil {
		return nil
	}
	known := make([]imtypes.ID, 0, len(ids))
	for _, id := range ids {
		if !id.IsLocal() && c.timeline.Has(id) && !slices.Contains(known, id) {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if !c.connected() {
		return websocket.ErrNotConnected
	}
	return c.transport.Send(imtypes.NewDeleteMessage(c.focused, known))
}

// ChangeAvatar announces a new avatar URL, usually one returned by an upload.
func (c *Core) ChangeAvatar(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if !c.connected() {
		return websocket.ErrNotConnected
	}
	return c.transport.Send(imtypes.NewChangeAvatar(url))
}

// Logout tears the session down: every timer is cancelled, ephemeral state is
// dropped and the transport closed.
func (c *Core) Logout() {
	c.resetSession()
	if c.transport != nil {
		c.transport.Close()
	}
	c.session = nil
}

func (c *Core) resetSession() {
	c.timers.StopAll()
	c.router.Reset()
	c.search.Cancel()
	c.pager.Reset()
	c.results = nil
	c.focused = ""
	c.timeline = nil
	c.contactsPage = 0
	c.tracker = outbound.NewTracker(c.timers.Now)
	c.store = conversations.NewStore(c.opts.DefaultAvatar, c.timers.Now)
}

// --- queries ---

func (c *Core) Snapshot() Snapshot {
	s := Snapshot{
		Focused:       c.focused,
		Conversations: c.store.List(),
		HistoryDone:   c.pager.Exhausted(),
		SearchResults: slices.Clone(c.results),
		Pending:       c.tracker.Len(),
		Fatal:         c.fatal,
	}
	if c.transport != nil {
		s.State = c.transport.State()
	}
	if c.timeline != nil {
		s.Timeline = c.timeline.Entries()
	}
	if peer, _, ok := c.router.Typing(); ok {
		s.TypingPeer = peer
	}
	return s
}
