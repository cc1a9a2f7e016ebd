package imtypes

// MessageType is the kind of a chat message. On the wire it doubles as the frame type.
type MessageType string

const (
	TextMessageType    MessageType = "text"
	ImageMessageType   MessageType = "image"
	VideoMessageType   MessageType = "video"
	VoiceMessageType   MessageType = "voice"
	AudioMessageType   MessageType = "audio"
	FileMessageType    MessageType = "file"
	DeletedMessageType MessageType = "deleted" // local only, set when the server deletes a message
)

// ChatMessageTypes lists the kinds that travel as chat frames.
var ChatMessageTypes = []MessageType{
	TextMessageType,
	ImageMessageType,
	VideoMessageType,
	VoiceMessageType,
	AudioMessageType,
	FileMessageType,
}

// IsMedia reports whether the content of this kind is a URL to an uploaded file.
func (t MessageType) IsMedia() bool {
	switch t {
	case ImageMessageType, VideoMessageType, VoiceMessageType, AudioMessageType, FileMessageType:
		return true
	}
	return false
}

// Message status values.
const (
	StatusSent = "sent"
	StatusSeen = "seen"
)

// Message is a chat frame. Outbound frames carry TempID only; the server echo
// carries both TempID and the assigned ID.
type Message struct {
	Type      MessageType `json:"type"`
	ID        ID          `json:"id,omitempty"`
	TempID    string      `json:"tempId,omitempty"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Content   string      `json:"content"`
	Status    string      `json:"status,omitempty"`
	CreatedAt int64       `json:"created_at,omitempty"` // unix millis
}

func (m Message) FrameType() FrameType { return FrameType(m.Type) }

// Preview is the one-line summary shown in the conversation list.
func (m Message) Preview() string {
	switch {
	case m.Type == TextMessageType:
		return m.Content
	case m.Type == DeletedMessageType:
		return ""
	default:
		return "[" + string(m.Type) + "]"
	}
}

// Peer returns the other side of the conversation this message belongs to.
func (m Message) Peer(self string) string {
	if m.From == self {
		return m.To
	}
	return m.From
}
