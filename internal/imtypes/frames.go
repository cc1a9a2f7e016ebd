package imtypes

// FrameType is the `type` discriminator of a wire frame.
type FrameType string

const (
	LoadContactsFrame   FrameType = "load_contacts"
	ContactsFrame       FrameType = "contacts"
	LoadHistoryFrame    FrameType = "load_history"
	HistoryFrame        FrameType = "history"
	TypingFrame         FrameType = "typing"
	SeenFrame           FrameType = "seen"
	SetOnlineFrame      FrameType = "set_online"
	SetOfflineFrame     FrameType = "set_offline"
	DeleteMessageFrame  FrameType = "delete_message"
	MessageDeletedFrame FrameType = "message_deleted"
	SearchContactsFrame FrameType = "search_contacts"
	SearchResultsFrame  FrameType = "search_results"
	AvatarChangedFrame  FrameType = "avatar_changed"
	ChangeAvatarFrame   FrameType = "change_avatar"
	PingFrame           FrameType = "ping"
)

// Frame is anything that can travel over the websocket.
type Frame interface {
	FrameType() FrameType
}

// Contact is one entry of a contacts page or search result. The backend has
// used both "username" and "Username"; decoding is case-insensitive so either works.
type Contact struct {
	ID            ID     `json:"id,omitempty"`
	Username      string `json:"username"`
	Avatar        string `json:"avatar,omitempty"`
	Online        *bool  `json:"online,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"` // unix millis
	UnreadCount   int    `json:"unread_count,omitempty"`
}

// PeerID is the key a contact is stored under: the server id when present,
// otherwise the username.
func (c Contact) PeerID() string {
	if c.ID != "" {
		return string(c.ID)
	}
	return c.Username
}

type LoadContacts struct {
	Type     FrameType `json:"type"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	From     string    `json:"from,omitempty"`
}

func (f LoadContacts) FrameType() FrameType { return f.Type }

type Contacts struct {
	Type     FrameType `json:"type"`
	Contacts []Contact `json:"contacts"`
}

func (f Contacts) FrameType() FrameType { return f.Type }

type LoadHistory struct {
	Type     FrameType `json:"type"`
	With     string    `json:"with"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

func (f LoadHistory) FrameType() FrameType { return f.Type }

// History is one page of messages. With and Page are optional: when the server
// omits them the page belongs to the outstanding request.
type History struct {
	Type     FrameType `json:"type"`
	With     string    `json:"with,omitempty"`
	Page     *int      `json:"page,omitempty"`
	Messages []Message `json:"messages"`
}

func (f History) FrameType() FrameType { return f.Type }

type Typing struct {
	Type FrameType `json:"type"`
	From string    `json:"from,omitempty"`
	With string    `json:"with,omitempty"`
}

func (f Typing) FrameType() FrameType { return f.Type }

type Seen struct {
	Type FrameType `json:"type"`
	From string    `json:"from,omitempty"`
	With string    `json:"with"`
}

func (f Seen) FrameType() FrameType { return f.Type }

// Peer is the user who read the messages. Receipts from older servers only carry With.
func (f Seen) Peer() string {
	if f.From != "" {
		return f.From
	}
	return f.With
}

// Presence is a set_online or set_offline notification.
type Presence struct {
	Type FrameType `json:"type"`
	From string    `json:"from"`
}

func (f Presence) FrameType() FrameType { return f.Type }

func (f Presence) Online() bool { return f.Type == SetOnlineFrame }

// DeleteMessage is shared by the delete_message request and the message_deleted broadcast.
type DeleteMessage struct {
	Type       FrameType `json:"type"`
	MessageIDs []ID      `json:"message_ids"`
	To         string    `json:"to,omitempty"`
	From       string    `json:"from,omitempty"`
}

func (f DeleteMessage) FrameType() FrameType { return f.Type }

type SearchContacts struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}

func (f SearchContacts) FrameType() FrameType { return f.Type }

type SearchResults struct {
	Type     FrameType `json:"type"`
	Contacts []Contact `json:"contacts"`
}

func (f SearchResults) FrameType() FrameType { return f.Type }

type AvatarChanged struct {
	Type   FrameType `json:"type"`
	From   string    `json:"from"`
	Avatar string    `json:"avatar"`
}

func (f AvatarChanged) FrameType() FrameType { return f.Type }

type ChangeAvatar struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}

func (f ChangeAvatar) FrameType() FrameType { return f.Type }

type Ping struct {
	Type FrameType `json:"type"`
}

func (f Ping) FrameType() FrameType { return f.Type }

// Outbound frame constructors.

func NewPing() Ping { return Ping{Type: PingFrame} }

func NewLoadContacts(page, pageSize int, from string) LoadContacts {
	return LoadContacts{Type: LoadContactsFrame, Page: page, PageSize: pageSize, From: from}
}

func NewLoadHistory(with string, page, pageSize int) LoadHistory {
	return LoadHistory{Type: LoadHistoryFrame, With: with, Page: page, PageSize: pageSize}
}

func NewTyping(with string) Typing { return Typing{Type: TypingFrame, With: with} }

func NewSeen(with string) Seen { return Seen{Type: SeenFrame, With: with} }

func NewDeleteMessage(to string, ids []ID) DeleteMessage {
	return DeleteMessage{Type: DeleteMessageFrame, MessageIDs: ids, To: to}
}

func NewSearchContacts(query string) SearchContacts {
	return SearchContacts{Type: SearchContactsFrame, Content: query}
}

func NewChangeAvatar(url string) ChangeAvatar {
	return ChangeAvatar{Type: ChangeAvatarFrame, Content: url}
}
