package conversations

import (
	"reflect"
	"testing"
	"time"

	"im-sync/internal/imtypes"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	now := epoch
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func peers(s *Store) []string {
	var out []string
	for _, c := range s.List() {
		out = append(out, c.PeerID)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func inbound(from, content string) imtypes.Message {
	return imtypes.Message{Type: imtypes.TextMessageType, From: from, To: "me", Content: content}
}

func TestApplyContactsPageIdempotent(t *testing.T) {
	s := NewStore("", steppingClock())
	page := []imtypes.Contact{
		{ID: "u2", Username: "bob", Online: boolPtr(true), LastMessage: "hey", LastMessageAt: epoch.UnixMilli()},
		{ID: "u3", Username: "carol", UnreadCount: 2},
		{Username: "dave"},
	}

	added := s.ApplyContactsPage(page, "")
	if !reflect.DeepEqual(added, []string{"u2", "u3", "dave"}) {
		t.Fatalf("added = %v", added)
	}
	first := s.List()

	if again := s.ApplyContactsPage(page, ""); len(again) != 0 {
		t.Errorf("second application added %v", again)
	}
	if !reflect.DeepEqual(first, s.List()) {
		t.Errorf("second application changed the store:\n%+v\n%+v", first, s.List())
	}

	bob, _ := s.Get("u2")
	if bob.Username != "bob" || !bob.Online || bob.Preview != "hey" || bob.Avatar != DefaultAvatar {
		t.Errorf("bob = %+v", bob)
	}
	carol, _ := s.Get("u3")
	if carol.Unread != 2 {
		t.Errorf("carol unread = %d, want 2", carol.Unread)
	}
}

func TestApplyContactsPageKeepsFresherLiveState(t *testing.T) {
	s := NewStore("", steppingClock())
	s.ApplyContactsPage([]imtypes.Contact{{ID: "u2", Username: "bob"}}, "")
	s.ApplyInboundMessage(inbound("u2", "live one"), "")
	s.ApplyInboundMessage(inbound("u2", "live two"), "")

	stale := []imtypes.Contact{{ID: "u2", Username: "bobby", LastMessage: "old", LastMessageAt: epoch.Add(-time.Hour).UnixMilli(), UnreadCount: 0}}
	s.ApplyContactsPage(stale, "")

	bob, _ := s.Get("u2")
	if bob.Preview != "live two" {
		t.Errorf("stale page clobbered preview: %q", bob.Preview)
	}
	if bob.Unread != 2 {
		t.Errorf("stale page clobbered unread: %d", bob.Unread)
	}
	if bob.Username != "bobby" {
		t.Errorf("display name not refreshed: %q", bob.Username)
	}
}

func TestUnreadCounting(t *testing.T) {
	s := NewStore("", steppingClock())
	s.ApplyContactsPage([]imtypes.Contact{{ID: "u2"}, {ID: "u3"}}, "")

	s.ApplyInboundMessage(inbound("u3", "a"), "u2")
	s.ApplyInboundMessage(inbound("u3", "b"), "u2")
	s.ApplyInboundMessage(inbound("u3", "c"), "u2")
	s.ApplyInboundMessage(inbound("u2", "focused"), "u2")

	u3, _ := s.Get("u3")
	if u3.Unread != 3 {
		t.Errorf("u3 unread = %d, want 3", u3.Unread)
	}
	u2, _ := s.Get("u2")
	if u2.Unread != 0 {
		t.Errorf("focused u2 unread = %d, want 0", u2.Unread)
	}

	if !s.SetFocus("u3") {
		t.Fatal("SetFocus(u3) = false")
	}
	u3, _ = s.Get("u3")
	if u3.Unread != 0 {
		t.Errorf("u3 unread after focus = %d", u3.Unread)
	}
	if s.SetFocus("nobody") {
		t.Error("SetFocus on unknown peer returned true")
	}
}

func TestMoveToFrontOrdering(t *testing.T) {
	s := NewStore("", steppingClock())
	s.ApplyContactsPage([]imtypes.Contact{{ID: "a"}, {ID: "b"}, {ID: "c"}}, "")
	if got := peers(s); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("initial order = %v", got)
	}

	s.ApplyInboundMessage(inbound("c", "hi"), "")
	if got := peers(s); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("after inbound from c = %v", got)
	}

	s.ApplyOutboundMessage(imtypes.Message{Type: imtypes.ImageMessageType, From: "me", To: "b", Content: "https://x"})
	if got := peers(s); !reflect.DeepEqual(got, []string{"b", "c", "a"}) {
		t.Errorf("after outbound to b = %v", got)
	}
	b, _ := s.Get("b")
	if b.Preview != "[image]" {
		t.Errorf("media preview = %q", b.Preview)
	}

	list := s.List()
	for i := 1; i < len(list); i++ {
		if list[i].LastActivity.After(list[i-1].LastActivity) {
			t.Fatalf("list not sorted by activity: %+v", list)
		}
	}
}

func TestContactsPageOrdersByActivity(t *testing.T) {
	s := NewStore("", steppingClock())
	s.ApplyContactsPage([]imtypes.Contact{
		{ID: "old", LastMessageAt: epoch.Add(-2 * time.Hour).UnixMilli()},
		{ID: "new", LastMessageAt: epoch.Add(-time.Hour).UnixMilli()},
		{ID: "never"},
	}, "")
	if got := peers(s); !reflect.DeepEqual(got, []string{"new", "old", "never"}) {
		t.Errorf("order = %v", got)
	}
}

func TestInboundFromUnknownPeerCreatesEntry(t *testing.T) {
	s := NewStore("https://avatars/default.png", steppingClock())
	s.ApplyInboundMessage(inbound("stranger", "hello"), "")
	c, ok := s.Get("stranger")
	if !ok {
		t.Fatal("no entry for unknown sender")
	}
	if c.Unread != 1 || c.Avatar != "https://avatars/default.png" || c.Username != "stranger" {
		t.Errorf("entry = %+v", c)
	}
}

func TestOutboundResetsUnreadAndSeen(t *testing.T) {
	s := NewStore("", steppingClock())
	s.ApplyInboundMessage(inbound("u2", "ping"), "")
	s.ApplySeenReceipt("u2")
	s.ApplyOutboundMessage(imtypes.Message{Type: imtypes.TextMessageType, From: "me", To: "u2", Content: "pong"})
	c, _ := s.Get("u2")
	if c.Unread != 0 || c.Seen || c.Preview != "pong" {
		t.Errorf("entry = %+v", c)
	}
}

func TestUnknownPeerReceiptsAreDropped(t *testing.T) {
	s := NewStore("", steppingClock())
	tests := []struct {
		name  string
		apply func() bool
	}{
		{"seen", func() bool { return s.ApplySeenReceipt("ghost") }},
		{"presence", func() bool { return s.ApplyPresence("ghost", true) }},
		{"avatar", func() bool { return s.ApplyAvatarChange("ghost", "https://x") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.apply() {
				t.Error("update for unknown peer reported applied")
			}
			if s.Len() != 0 {
				t.Errorf("store grew to %d entries", s.Len())
			}
		})
	}
}

func TestKnownPeerReceipts(t *testing.T) {
	s := NewStore("", steppingClock())
	s.ApplyContactsPage([]imtypes.Contact{{ID: "u2", Avatar: "https://a"}}, "")

	s.ApplyPresence("u2", true)
	s.ApplySeenReceipt("u2")
	s.ApplyAvatarChange("u2", "https://b")

	c, _ := s.Get("u2")
	if !c.Online || !c.Seen || c.Avatar != "https://b" {
		t.Errorf("entry = %+v", c)
	}
	s.ApplyAvatarChange("u2", "")
	c, _ = s.Get("u2")
	if c.Avatar != DefaultAvatar {
		t.Errorf("cleared avatar = %q, want default", c.Avatar)
	}
}

func TestCreatedAtDrivesActivity(t *testing.T) {
	s := NewStore("", steppingClock())
	m := inbound("u2", "x")
	m.CreatedAt = epoch.Add(-time.Minute).UnixMilli()
	s.ApplyInboundMessage(m, "")
	c, _ := s.Get("u2")
	if !c.LastActivity.Equal(time.UnixMilli(m.CreatedAt)) {
		t.Errorf("LastActivity = %v", c.LastActivity)
	}
}

func TestLateMessageDoesNotRewindActivity(t *testing.T) {
	tests := []struct {
		name  string
		apply func(s *Store, m imtypes.Message)
	}{
		{"inbound", func(s *Store, m imtypes.Message) { s.ApplyInboundMessage(m, "") }},
		{"outbound", func(s *Store, m imtypes.Message) {
			m.From, m.To = "me", m.From
			s.ApplyOutboundMessage(m)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore("", steppingClock())
			newer := inbound("u2", "newer")
			newer.CreatedAt = epoch.UnixMilli()
			tt.apply(s, newer)
			other := inbound("u3", "in between")
			other.CreatedAt = epoch.Add(-time.Minute).UnixMilli()
			s.ApplyInboundMessage(other, "")

			late := inbound("u2", "late")
			late.CreatedAt = epoch.Add(-time.Hour).UnixMilli()
			tt.apply(s, late)

			c, _ := s.Get("u2")
			if c.Preview != "newer" || !c.LastActivity.Equal(epoch) {
				t.Errorf("conversation = %+v", c)
			}
			if got := peers(s); !reflect.DeepEqual(got, []string{"u2", "u3"}) {
				t.Errorf("order = %v", got)
			}
		})
	}
}
