package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Engine methods once its loop has exited.
var ErrStopped = errors.New("engine stopped")

// SendError reports a chat message that could not be handed to the transport.
// TempID is empty when no pending entry was created.
type SendError struct {
	TempID string
	Peer   string
	Err    error
}

func (e *SendError) Error() string {
	if e.TempID == "" {
		return fmt.Sprintf("send to %s: %v", e.Peer, e.Err)
	}
	return fmt.Sprintf("send %s to %s: %v", e.TempID, e.Peer, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
