package imtypes

import (
	"errors"
	"fmt"
)

// ErrUnknownFrame marks a frame whose type this client does not handle.
var ErrUnknownFrame = errors.New("unknown frame type")

// DecodeError is returned for frames that are not valid JSON or do not match
// the shape of their declared type.
type DecodeError struct {
	Type FrameType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed frame: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s frame: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
