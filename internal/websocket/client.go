package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"im-sync/internal/config"

	"github.com/gorilla/websocket"
)

// Conn is one open websocket as the transport sees it.
type Conn interface {
	// ReadMessage blocks for the next text message.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	cfg    config.WebSocketConfig
	dialer *websocket.Dialer
}

// NewGorillaDialer returns a Dialer configured from cfg.
func NewGorillaDialer(cfg config.WebSocketConfig) *GorillaDialer {
	return &GorillaDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake rejected (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.cfg.MaxMessageSizeBytes > 0 {
		conn.SetReadLimit(int64(d.cfg.MaxMessageSizeBytes))
	}
	gc := &gorillaConn{
		conn:      conn,
		writeWait: time.Duration(d.cfg.WriteWaitSeconds) * time.Second,
		pongWait:  time.Duration(d.cfg.PongWaitSeconds) * time.Second,
	}
	if gc.pongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(gc.pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(gc.pongWait))
			return nil
		})
	}
	return gc, nil
}

type gorillaConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if c.pongWait > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		}
		return data, nil
	}
}

func (c *gorillaConn) WriteMessage(data []byte) error {
	if c.writeWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close() error {
	deadline := time.Now().Add(time.Second)
	if c.writeWait > 0 {
		deadline = time.Now().Add(c.writeWait)
	}
	// WriteControl may run concurrently with the write pump.
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// IsUnexpectedClose reports whether err is anything other than an orderly close.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Connection is one transport instance: a socket plus its read and write pumps.
type Connection struct {
	CreatedAt time.Time

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(c Conn, sendBuffer int, now time.Time) *Connection {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Connection{
		CreatedAt: now,
		conn:      c,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// start launches the pumps. onData receives every inbound payload; onDrop is
// called when either pump fails and may be called more than once.
func (c *Connection) start(onData func([]byte), onDrop func(error)) {
	go c.writePump(onDrop)
	go c.readPump(onData, onDrop)
}

// readPump pumps messages from the websocket connection to onData.
func (c *Connection) readPump(onData func([]byte), onDrop func(error)) {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			onDrop(err)
			return
		}
		onData(data)
	}
}

// writePump pumps queued frames to the websocket connection, one message per frame.
func (c *Connection) writePump(onDrop func(error)) {
	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if err := c.conn.WriteMessage(message); err != nil {
				onDrop(err)
				return
			}
		}
	}
}

func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops the pumps and closes the socket. Safe to call repeatedly.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
