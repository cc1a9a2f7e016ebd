// Package signals routes ephemeral events (typing, presence, deletions, seen
// receipts, avatar changes) into the stores they affect.
package signals

import (
	"time"

	"im-sync/internal/clock"
	"im-sync/internal/conversations"
	"im-sync/internal/imtypes"
	"im-sync/internal/timeline"
)

// Config holds the router timings.
type Config struct {
	TypingExpiry   time.Duration
	TypingThrottle time.Duration
}

// Router is not safe for concurrent use; its timers must be delivered on the
// owner's goroutine.
type Router struct {
	cfg   Config
	sched clock.Scheduler

	typingPeer    string
	typingExpires time.Time
	typingTimer   clock.Timer
	onTyping      func(peer string)

	lastTypingSent time.Time
	presence       map[string]bool
}

// NewRouter returns a router. onTyping is called with the typing peer whenever
// the typing slot changes, with "" when it goes idle. It may be nil.
func NewRouter(cfg Config, sched clock.Scheduler, onTyping func(peer string)) *Router {
	if onTyping == nil {
		onTyping = func(string) {}
	}
	return &Router{
		cfg:      cfg,
		sched:    sched,
		onTyping: onTyping,
		presence: make(map[string]bool),
	}
}

// OnTyping records that peer is typing. A newer signal replaces the slot and
// restarts the expiry.
func (r *Router) OnTyping(peer string) {
	if peer == "" {
		return
	}
	if r.typingTimer != nil {
		r.typingTimer.Stop()
	}
	changed := r.typingPeer != peer
	r.typingPeer = peer
	r.typingExpires = r.sched.Now().Add(r.cfg.TypingExpiry)
	r.typingTimer = r.sched.AfterFunc(r.cfg.TypingExpiry, r.expireTyping)
	if changed {
		r.onTyping(peer)
	}
}

func (r *Router) expireTyping() {
	r.typingTimer = nil
	if r.typingPeer == "" {
		return
	}
	r.typingPeer = ""
	r.typingExpires = time.Time{}
	r.onTyping("")
}

// Typing returns the peer currently typing, if any.
func (r *Router) Typing() (peer string, expiresAt time.Time, ok bool) {
	return r.typingPeer, r.typingExpires, r.typingPeer != ""
}

// AllowTypingEmit reports whether an outbound typing signal may be sent now,
// and if so starts a new throttle window.
func (r *Router) AllowTypingEmit() bool {
	now := r.sched.Now()
	if !r.lastTypingSent.IsZero() && now.Sub(r.lastTypingSent) < r.cfg.TypingThrottle {
		return false
	}
	r.lastTypingSent = now
	return true
}

// OnPresence remembers peer's presence and applies it to the store. The
// remembered value is replayed by ReplayPresence when peer shows up later.
// It reports whether a known conversation changed.
func (r *Router) OnPresence(store *conversations.Store, peer string, online bool) bool {
	if peer == "" {
		return false
	}
	r.presence[peer] = online
	before, known := store.Get(peer)
	if !known {
		return false
	}
	store.ApplyPresence(peer, online)
	return before.Online != online
}

// Presence returns the last presence seen for peer.
func (r *Router) Presence(peer string) (online, known bool) {
	online, known = r.presence[peer]
	return online, known
}

// ReplayPresence applies remembered presence to newly added peers.
func (r *Router) ReplayPresence(store *conversations.Store, peers []string) {
	for _, peer := range peers {
		if online, ok := r.presence[peer]; ok {
			store.ApplyPresence(peer, online)
		}
	}
}

// OnDeletion blanks the deleted messages in tl. Only confirmed entries match.
func (r *Router) OnDeletion(tl *timeline.Timeline, ids []imtypes.ID) int {
	if tl == nil {
		return 0
	}
	return tl.MarkDeleted(ids)
}

// OnSeen handles a read receipt from peer: the local user's confirmed messages
// in tl (when tl shows peer) become seen and the conversation is flagged.
func (r *Router) OnSeen(tl *timeline.Timeline, store *conversations.Store, self, peer string) int {
	store.ApplySeenReceipt(peer)
	if tl == nil || tl.Peer() != peer {
		return 0
	}
	return tl.MarkSeen(self)
}

// OnAvatarChanged routes an avatar update to the store.
func (r *Router) OnAvatarChanged(store *conversations.Store, peer, avatar string) bool {
	return store.ApplyAvatarChange(peer, avatar)
}

// Reset cancels the typing expiry and clears all ephemeral state.
func (r *Router) Reset() {
	if r.typingTimer != nil {
		r.typingTimer.Stop()
		r.typingTimer = nil
	}
	r.typingPeer = ""
	r.typingExpires = time.Time{}
	r.lastTypingSent = time.Time{}
	clear(r.presence)
}
