// Package websocket owns the client's connection to the chat backend: dialing,
// the read/write pumps, keep-alive and reconnection with backoff.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"im-sync/internal/auth"
	"im-sync/internal/clock"
	"im-sync/internal/config"
	"im-sync/internal/imtypes"
	"im-sync/internal/obs"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives transport events. All calls happen on the goroutine that
// post delivers to.
type Handler interface {
	OnOpen()
	OnFrame(f imtypes.Frame)
	OnStateChange(s State)
	// OnFatal reports that the session can no longer connect.
	OnFatal(err error)
}

// Options configures a Manager.
type Options struct {
	// URL is the websocket endpoint; the session token is added as ?token=.
	URL                  string
	KeepAliveInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	SendBufferSize       int
	DialTimeout          time.Duration
}

// OptionsFromConfig builds Options for endpoint from the loaded configuration.
func OptionsFromConfig(endpoint string, cfg config.Config) Options {
	return Options{
		URL:                  endpoint,
		KeepAliveInterval:    cfg.Session.KeepAliveInterval,
		ReconnectBaseDelay:   cfg.Session.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Session.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		SendBufferSize:       cfg.WebSocket.SendBufferSize,
		DialTimeout:          time.Duration(cfg.WebSocket.HandshakeTimeoutSeconds) * time.Second,
	}
}

// BackoffDelay is the wait before reconnect attempt number attempt (zero based):
// base×(attempt+1), capped at max.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt+1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Manager keeps exactly one Connection per Session. It is not safe for
// concurrent use: every method, and every callback it schedules, must run on the
// owner's goroutine. Pump goroutines hand their events over through post.
type Manager struct {
	opts    Options
	dialer  Dialer
	sched   clock.Scheduler
	post    func(func())
	handler Handler
	logger  *slog.Logger

	session    *auth.Session
	state      State
	conn       *Connection
	gen        uint64
	cancelDial context.CancelFunc
	keepAlive  clock.Timer
	reconnect  clock.Timer
	lastErr    error
}

// NewManager returns a disconnected Manager.
func NewManager(opts Options, dialer Dialer, sched clock.Scheduler, post func(func()), handler Handler, logger *slog.Logger) *Manager {
	return &Manager{
		opts:    opts,
		dialer:  dialer,
		sched:   sched,
		post:    post,
		handler: handler,
		logger:  obs.OrDiscard(logger).With("component", "transport"),
	}
}

func (m *Manager) State() State { return m.state }

func (m *Manager) Session() *auth.Session { return m.session }

// Connection returns the current connection, or nil.
func (m *Manager) Connection() *Connection { return m.conn }

// Connect opens a connection for s. It is a no-op while s is already open or
// connecting. A different session replaces the current one. An explicit
// Connect starts a fresh round of reconnect attempts.
func (m *Manager) Connect(s *auth.Session) {
	if s == nil {
		return
	}
	if m.session == s && (m.state == Open || m.state == Connecting) {
		return
	}
	if m.session != nil && m.session != s {
		m.abortDial()
		m.detach()
	}
	m.session = s
	m.stopReconnect()
	s.Attempts = 0
	if !s.Valid(m.sched.Now()) {
		m.setState(Disconnected)
		m.handler.OnFatal(ErrSessionInvalid)
		return
	}
	m.dial()
}

// Send serializes f onto the current connection. It fails fast with
// ErrNotConnected unless the transport is open; nothing is queued for later.
func (m *Manager) Send(f imtypes.Frame) error {
	if m.state != Open || m.conn == nil {
		return ErrNotConnected
	}
	data, err := imtypes.Encode(f)
	if err != nil {
		return err
	}
	if err := m.conn.enqueue(data); err != nil {
		return fmt.Errorf("send %s: %w", f.FrameType(), err)
	}
	return nil
}

// Close tears the session down: timers are cancelled, an in-flight dial is
// abandoned, the connection is closed and the session invalidated.
func (m *Manager) Close() {
	if m.session != nil {
		m.session.Invalidate()
	}
	m.stopReconnect()
	m.abortDial()
	if m.conn != nil {
		m.setState(Closing)
		m.detach()
	}
	m.stopKeepAlive()
	m.setState(Disconnected)
}

func (m *Manager) dial() {
	s := m.session
	endpoint, err := m.endpoint(s.Token)
	if err != nil {
		m.setState(Disconnected)
		m.handler.OnFatal(err)
		return
	}

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	if m.opts.DialTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.opts.DialTimeout)
	}
	m.cancelDial = cancel
	m.setState(Connecting)
	m.logger.Debug("dialing", "attempt", s.Attempts)

	go func() {
		c, err := m.dialer.Dial(ctx, endpoint)
		m.post(func() { m.onDialed(gen, s, c, err) })
	}()
}

func (m *Manager) onDialed(gen uint64, s *auth.Session, c Conn, err error) {
	if gen != m.gen || s != m.session {
		// Superseded while dialing.
		if c != nil {
			c.Close()
		}
		return
	}
	m.abortDial()

	if err != nil {
		m.lastErr = err
		m.logger.Warn("websocket dial failed", "attempt", s.Attempts, "error", err)
		m.setState(Disconnected)
		m.scheduleReconnect()
		return
	}
	if !s.Valid(m.sched.Now()) {
		c.Close()
		m.setState(Disconnected)
		m.handler.OnFatal(ErrSessionInvalid)
		return
	}

	conn := newConnection(c, m.opts.SendBufferSize, m.sched.Now())
	m.conn = conn
	s.Attempts = 0
	conn.start(
		func(data []byte) { m.post(func() { m.onData(conn, data) }) },
		func(err error) { m.post(func() { m.onDrop(conn, err) }) },
	)
	m.setState(Open)
	m.logger.Info("websocket connected", "user", s.Self())

	// The backend marks a user online on activity; the first ping announces us.
	if err := m.Send(imtypes.NewPing()); err != nil {
		m.logger.Warn("initial ping failed", "error", err)
	}
	m.startKeepAlive(conn)
	m.handler.OnOpen()
}

func (m *Manager) onData(conn *Connection, payload []byte) {
	for _, raw := range imtypes.SplitFrames(payload) {
		if conn != m.conn {
			return
		}
		f, err := imtypes.Decode(raw)
		switch {
		case errors.Is(err, imtypes.ErrUnknownFrame):
			m.logger.Debug("ignoring frame", "error", err)
		case err != nil:
			m.logger.Warn("dropping malformed frame", "error", err, "frame", string(raw))
		default:
			m.handler.OnFrame(f)
		}
	}
}

func (m *Manager) onDrop(conn *Connection, err error) {
	if conn != m.conn {
		return
	}
	m.lastErr = err
	if IsUnexpectedClose(err) {
		m.logger.Warn("websocket connection lost", "error", err)
	} else {
		m.logger.Info("websocket connection closed", "error", err)
	}
	m.detach()
	m.setState(Disconnected)

	if !m.session.Valid(m.sched.Now()) {
		m.handler.OnFatal(ErrSessionInvalid)
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	s := m.session
	if s.Attempts >= m.opts.MaxReconnectAttempts {
		err := &ReconnectError{Attempts: s.Attempts, Err: m.lastErr}
		m.logger.Error("giving up on reconnect", "attempts", s.Attempts, "error", m.lastErr)
		m.handler.OnFatal(err)
		return
	}
	delay := BackoffDelay(m.opts.ReconnectBaseDelay, m.opts.ReconnectMaxDelay, s.Attempts)
	s.Attempts++
	m.setState(Reconnecting)
	m.logger.Info("reconnect scheduled", "attempt", s.Attempts, "delay", delay)

	m.reconnect = m.sched.AfterFunc(delay, func() {
		m.reconnect = nil
		if m.session != s || m.state != Reconnecting {
			return
		}
		if !s.Valid(m.sched.Now()) {
			m.setState(Disconnected)
			m.handler.OnFatal(ErrSessionInvalid)
			return
		}
		m.dial()
	})
}

func (m *Manager) startKeepAlive(conn *Connection) {
	var tick func()
	tick = func() {
		m.keepAlive = nil
		if conn != m.conn || m.state != Open {
			return
		}
		if err := m.Send(imtypes.NewPing()); err != nil {
			m.logger.Warn("keep-alive ping failed", "error", err)
		}
		m.keepAlive = m.sched.AfterFunc(m.opts.KeepAliveInterval, tick)
	}
	m.keepAlive = m.sched.AfterFunc(m.opts.KeepAliveInterval, tick)
}

func (m *Manager) stopKeepAlive() {
	if m.keepAlive != nil {
		m.keepAlive.Stop()
		m.keepAlive = nil
	}
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// abortDial invalidates any dial in flight; its result will be closed on arrival.
func (m *Manager) abortDial() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
		m.gen++
	}
}

// detach closes the current connection. Events still queued from its pumps
// are discarded because they no longer match m.conn.
func (m *Manager) detach() {
	m.stopKeepAlive()
	if m.conn != nil {
		m.conn.close()
		m.conn = nil
	}
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	m.logger.Debug("state change", "from", m.state, "to", s)
	m.state = s
	m.handler.OnStateChange(s)
}

func (m *Manager) endpoint(token string) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url %q: %w", m.opts.URL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
