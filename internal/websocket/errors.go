package websocket

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send unless the transport is open.
	ErrNotConnected = errors.New("websocket: not connected")
	// ErrSendBufferFull is returned when the outbound buffer of the connection is full.
	ErrSendBufferFull = errors.New("websocket: send buffer full")
	// ErrReconnectExhausted ends a session after too many failed attempts.
	ErrReconnectExhausted = errors.New("websocket: reconnect attempts exhausted")
	// ErrSessionInvalid is reported when the session expired while disconnected.
	ErrSessionInvalid = errors.New("websocket: session no longer valid")
)

// ReconnectError is the fatal error reported when reconnection gives up.
// Err is the last connection failure; errors.Is also matches ErrReconnectExhausted.
type ReconnectError struct {
	Attempts int
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("gave up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectError) Unwrap() error { return e.Err }

func (e *ReconnectError) Is(target error) bool { return target == ErrReconnectExhausted }
