package imtypes

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// inbound maps every frame type the client understands to a constructor for
// its decoded form.
var inbound = map[FrameType]func() Frame{
	ContactsFrame:       func() Frame { return &Contacts{} },
	HistoryFrame:        func() Frame { return &History{} },
	TypingFrame:         func() Frame { return &Typing{} },
	SeenFrame:           func() Frame { return &Seen{} },
	SetOnlineFrame:      func() Frame { return &Presence{} },
	SetOfflineFrame:     func() Frame { return &Presence{} },
	DeleteMessageFrame:  func() Frame { return &DeleteMessage{} },
	MessageDeletedFrame: func() Frame { return &DeleteMessage{} },
	SearchResultsFrame:  func() Frame { return &SearchResults{} },
	AvatarChangedFrame:  func() Frame { return &AvatarChanged{} },
}

func init() {
	for _, kind := range ChatMessageTypes {
		inbound[FrameType(kind)] = func() Frame { return &Message{} }
	}
}

// InboundTypes returns every frame type Decode accepts.
func InboundTypes() []FrameType {
	types := make([]FrameType, 0, len(inbound))
	for t := range inbound {
		types = append(types, t)
	}
	return types
}

// Decode parses a single frame. Unknown types yield an error wrapping
// ErrUnknownFrame; anything unparseable yields a *DecodeError.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Err: err}
	}
	newFrame, ok := inbound[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, head.Type)
	}
	f := newFrame()
	if err := json.Unmarshal(data, f); err != nil {
		return nil, &DecodeError{Type: head.Type, Err: err}
	}
	return f, nil
}

// SplitFrames splits a websocket payload into its newline-separated frames.
// Servers that batch queued writes join frames with '\n'.
func SplitFrames(payload []byte) [][]byte {
	var frames [][]byte
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			frames = append(frames, line)
		}
	}
	return frames
}

// Encode serializes an outbound frame.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.FrameType(), err)
	}
	return data, nil
}
