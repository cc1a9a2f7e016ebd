package engine

import (
	"context"
	"log/slog"

	"im-sync/internal/auth"
	"im-sync/internal/clock"
	"im-sync/internal/config"
	"im-sync/internal/imtypes"
	"im-sync/internal/obs"
	"im-sync/internal/websocket"
)

// Engine runs a Core on its own goroutine. Transport callbacks, timer
// callbacks and caller commands are all posted into that loop, so the state
// is never shared.
type Engine struct {
	core    *Core
	manager *websocket.Manager
	logger  *slog.Logger

	tasks  chan func()
	events chan Event
	done   chan struct{}
}

// New builds an engine for the websocket endpoint. Run must be called for
// anything to happen.
func New(cfg config.Config, endpoint string, dialer websocket.Dialer, logger *slog.Logger) *Engine {
	logger = obs.OrDiscard(logger)
	bufSize := cfg.Session.EventBufferSize
	if bufSize < 1 {
		bufSize = 256
	}
	e := &Engine{
		logger: logger,
		tasks:  make(chan func(), 256),
		events: make(chan Event, bufSize),
		done:   make(chan struct{}),
	}
	timers := clock.NewGroup(clock.NewReal(e.post))
	e.core = NewCore(OptionsFromConfig(cfg), timers, logger, e.emit)
	e.manager = websocket.NewManager(websocket.OptionsFromConfig(endpoint, cfg), dialer, timers, e.post, e.core, logger)
	e.core.SetTransport(e.manager)
	return e
}

// Events delivers change notifications. When the consumer falls behind,
// events are dropped; a Snapshot always reflects the full state.
func (e *Engine) Events() <-chan Event { return e.events }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run processes work until ctx is cancelled, then logs out and returns.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine loop started")
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.core.Logout()
			e.logger.Info("engine loop stopped")
			return nil
		case f := <-e.tasks:
			f()
		}
	}
}

// post queues f for the loop. Work posted after the loop exits is dropped.
func (e *Engine) post(f func()) {
	select {
	case e.tasks <- f:
	case <-e.done:
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event channel full, dropping event", "kind", ev.Kind)
	}
}

// do runs f on the loop and waits for it.
func (e *Engine) do(f func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		f()
	}
	select {
	case e.tasks <- task:
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Start connects with s, replacing any previous session.
func (e *Engine) Start(s *auth.Session) error {
	return e.do(func() { e.core.Start(s) })
}

func (e *Engine) Focus(peer string) error {
	return e.do(func() { e.core.Focus(peer) })
}

// Send sends a chat message to the focused conversation and returns its
// temporary id.
func (e *Engine) Send(kind imtypes.MessageType, content string) (tempID string, err error) {
	if derr := e.do(func() { tempID, err = e.core.SendMessage(kind, content) }); derr != nil {
		return "", derr
	}
	return tempID, err
}

func (e *Engine) LoadOlder() (err error) {
	if derr := e.do(func() { err = e.core.LoadOlder() }); derr != nil {
		return derr
	}
	return err
}

func (e *Engine) LoadMoreContacts() (err error) {
	if derr := e.do(func() { err = e.core.LoadMoreContacts() }); derr != nil {
		return derr
	}
	return err
}

func (e *Engine) NotifyTyping() error {
	return e.do(e.core.NotifyTyping)
}

func (e *Engine) Search(query string) error {
	return e.do(func() { e.core.Search(query) })
}

func (e *Engine) DeleteMessages(ids ...imtypes.ID) (err error) {
	if derr := e.do(func() { err = e.core.DeleteMessages(ids) }); derr != nil {
		return derr
	}
	return err
}

func (e *Engine) ChangeAvatar(url string) (err error) {
	if derr := e.do(func() { err = e.core.ChangeAvatar(url) }); derr != nil {
		return derr
	}
	return err
}

// Logout closes the session but keeps the loop running for a later Start.
func (e *Engine) Logout() error {
	return e.do(e.core.Logout)
}

func (e *Engine) Snapshot() (snap Snapshot, err error) {
	err = e.do(func() { snap = e.core.Snapshot() })
	return snap, err
}
