// Package conversations keeps the contact list: one entry per peer, ordered by
// last activity, newest first.
package conversations

import (
	"time"

	"im-sync/internal/imtypes"
)

// DefaultAvatar is used when the backend sends a contact without one.
const DefaultAvatar = "https://cdn-icons-png.flaticon.com/512/149/149071.png"

// Conversation is the list entry for one peer.
type Conversation struct {
	PeerID       string
	Username     string
	Avatar       string
	Online       bool
	Seen         bool // the peer has read our latest message
	Preview      string
	LastActivity time.Time
	Unread       int
}

// Store is not safe for concurrent use.
type Store struct {
	byPeer        map[string]*Conversation
	order         []string
	defaultAvatar string
	now           func() time.Time
}

// NewStore returns an empty store. An empty defaultAvatar means DefaultAvatar.
func NewStore(defaultAvatar string, now func() time.Time) *Store {
	if defaultAvatar == "" {
		defaultAvatar = DefaultAvatar
	}
	return &Store{
		byPeer:        make(map[string]*Conversation),
		defaultAvatar: defaultAvatar,
		now:           now,
	}
}

func (s *Store) Len() int { return len(s.order) }

func (s *Store) Get(peer string) (Conversation, bool) {
	c, ok := s.byPeer[peer]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// List returns the conversations, most recent activity first.
func (s *Store) List() []Conversation {
	out := make([]Conversation, len(s.order))
	for i, peer := range s.order {
		out[i] = *s.byPeer[peer]
	}
	return out
}

// ApplyContactsPage merges a page of contacts and returns the peers it added.
// Display fields take the page's values; activity only moves forward; unread
// counters of existing entries stay local. Applying a page twice is the same as once.
func (s *Store) ApplyContactsPage(entries []imtypes.Contact, focusedPeer string) []string {
	var added []string
	for _, entry := range entries {
		peer := entry.PeerID()
		if peer == "" {
			continue
		}
		c, exists := s.byPeer[peer]
		if !exists {
			c = &Conversation{PeerID: peer, Username: peer, Avatar: s.defaultAvatar}
			s.byPeer[peer] = c
			if peer != focusedPeer {
				c.Unread = entry.UnreadCount
			}
			added = append(added, peer)
		}
		if entry.Username != "" {
			c.Username = entry.Username
		}
		if entry.Avatar != "" {
			c.Avatar = entry.Avatar
		}
		if entry.Online != nil {
			c.Online = *entry.Online
		}

		moved := false
		if entry.LastMessageAt != 0 {
			at := time.UnixMilli(entry.LastMessageAt)
			if at.After(c.LastActivity) {
				c.LastActivity = at
				c.Preview = entry.LastMessage
				moved = true
			}
		} else if c.Preview == "" && entry.LastMessage != "" {
			c.Preview = entry.LastMessage
		}

		switch {
		case !exists:
			s.place(peer, false)
		case moved:
			s.unlink(peer)
			s.place(peer, false)
		}
	}
	return added
}

// ApplyInboundMessage records a message from a peer. Unread grows unless the
// sender's conversation is focused. Unknown senders get a new entry. A message
// older than the conversation's last activity leaves preview and position alone.
func (s *Store) ApplyInboundMessage(m imtypes.Message, focusedPeer string) {
	c := s.ensure(m.From)
	if m.From != focusedPeer {
		c.Unread++
	}
	if s.advance(c, m) {
		s.touch(m.From)
	}
}

// ApplyOutboundMessage records a message the local user sent to m.To. Unread
// for that peer goes to zero since the user is evidently looking at it.
func (s *Store) ApplyOutboundMessage(m imtypes.Message) {
	c := s.ensure(m.To)
	c.Unread = 0
	c.Seen = false
	if s.advance(c, m) {
		s.touch(m.To)
	}
}

// advance makes m the latest activity of c unless c already has newer activity.
func (s *Store) advance(c *Conversation, m imtypes.Message) bool {
	at := s.activity(m)
	if at.Before(c.LastActivity) {
		return false
	}
	c.LastActivity = at
	c.Preview = m.Preview()
	return true
}

// SetFocus resets the unread counter of peer. It reports whether peer is known.
func (s *Store) SetFocus(peer string) bool {
	c, ok := s.byPeer[peer]
	if !ok {
		return false
	}
	c.Unread = 0
	return true
}

// ApplySeenReceipt marks that peer has read the local user's messages.
// Receipts for unknown peers are dropped.
func (s *Store) ApplySeenReceipt(peer string) bool {
	c, ok := s.byPeer[peer]
	if !ok {
		return false
	}
	c.Seen = true
	return true
}

// ApplyPresence sets the online flag of a known peer.
func (s *Store) ApplyPresence(peer string, online bool) bool {
	c, ok := s.byPeer[peer]
	if !ok {
		return false
	}
	c.Online = online
	return true
}

// ApplyAvatarChange replaces the avatar of a known peer.
func (s *Store) ApplyAvatarChange(peer, avatar string) bool {
	c, ok := s.byPeer[peer]
	if !ok {
		return false
	}
	if avatar == "" {
		avatar = s.defaultAvatar
	}
	c.Avatar = avatar
	return true
}

func (s *Store) ensure(peer string) *Conversation {
	c, ok := s.byPeer[peer]
	if !ok {
		c = &Conversation{PeerID: peer, Username: peer, Avatar: s.defaultAvatar}
		s.byPeer[peer] = c
		s.order = append(s.order, peer)
	}
	return c
}

func (s *Store) activity(m imtypes.Message) time.Time {
	if m.CreatedAt != 0 {
		return time.UnixMilli(m.CreatedAt)
	}
	return s.now()
}

// touch moves peer ahead of every entry that is not newer than it.
func (s *Store) touch(peer string) {
	s.unlink(peer)
	s.place(peer, true)
}

// place inserts peer at its sorted position. With front set it goes before
// entries of equal activity, otherwise after them.
func (s *Store) place(peer string, front bool) {
	at := s.byPeer[peer].LastActivity
	pos := len(s.order)
	for i, other := range s.order {
		ot := s.byPeer[other].LastActivity
		if ot.Before(at) || (front && ot.Equal(at)) {
			pos = i
			break
		}
	}
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = peer
}

func (s *Store) unlink(peer string) {
	for i, p := range s.order {
		if p == peer {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
