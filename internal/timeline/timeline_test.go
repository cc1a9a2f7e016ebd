package timeline

import (
	"testing"

	"im-sync/internal/imtypes"
)

func msg(id string, from, to, content string) imtypes.Message {
	return imtypes.Message{Type: imtypes.TextMessageType, ID: imtypes.ID(id), From: from, To: to, Content: content}
}

func pending(tempID, content string) Entry {
	return Entry{Message: imtypes.Message{Type: imtypes.TextMessageType, TempID: tempID, From: "me", To: "u2", Content: content}}
}

func ids(t *Timeline) []string {
	var out []string
	for _, e := range t.Entries() {
		if e.Pending {
			out = append(out, "~"+e.TempID)
		} else {
			out = append(out, string(e.ID))
		}
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResetSortsDedupesAndKeepsPending(t *testing.T) {
	tl := New("u2")
	tl.Append(msg("99", "u2", "me", "stale"))

	n := tl.Reset([]imtypes.Message{
		msg("3", "u2", "me", "c"),
		msg("1", "u2", "me", "a"),
		msg("2", "me", "u2", "b"),
		msg("3", "u2", "me", "c again"),
		msg("", "u2", "me", "no id"),
	}, []Entry{pending("tmp-1", "queued")})

	want := []string{"1", "2", "3", "local:u2/1", "~tmp-1"}
	if got := ids(tl); !equal(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	if n != len(want) {
		t.Errorf("Reset returned %d", n)
	}
	if tl.Has("99") {
		t.Error("Reset kept an entry from the previous contents")
	}
}

func TestPromoteKeepsPosition(t *testing.T) {
	tl := New("u2")
	tl.Append(msg("40", "u2", "me", "before"))
	tl.AppendPending(pending("tmp-1", "hello"))
	tl.AppendPending(pending("tmp-2", "again"))

	echo := msg("42", "me", "u2", "hello")
	echo.TempID = "tmp-1"
	if !tl.Promote("tmp-1", echo) {
		t.Fatal("Promote returned false")
	}

	want := []string{"40", "42", "~tmp-2"}
	if got := ids(tl); !equal(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	if tl.HasPending("tmp-1") {
		t.Error("pending entry still indexed after promotion")
	}
	if !tl.Has("42") {
		t.Error("confirmed entry not indexed")
	}
}

func TestResetDropsPendingConfirmedByPage(t *testing.T) {
	tl := New("u2")
	confirmed := msg("42", "me", "u2", "hi")
	confirmed.TempID = "tmp-1"

	tl.Reset([]imtypes.Message{confirmed}, []Entry{pending("tmp-1", "hi"), pending("tmp-2", "later")})
	if got := ids(tl); !equal(got, []string{"42", "~tmp-2"}) {
		t.Fatalf("entries = %v, want [42 ~tmp-2]", got)
	}
	if tl.HasPending("tmp-1") {
		t.Error("pending twin of a confirmed message kept")
	}
}

func TestMessagesWithoutIDGetLocalIDs(t *testing.T) {
	tl := New("u2")
	if !tl.Append(msg("", "u2", "me", "one")) || !tl.Append(msg("", "u2", "me", "two")) {
		t.Fatal("Append refused a message without id")
	}
	if n := tl.MergeOlder([]imtypes.Message{msg("", "u2", "me", "older")}); n != 1 {
		t.Errorf("MergeOlder novel = %d, want 1", n)
	}
	entries := tl.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %v", ids(tl))
	}
	seen := make(map[imtypes.ID]bool)
	for _, e := range entries {
		if !e.ID.IsLocal() || seen[e.ID] {
			t.Errorf("entry %q: id %q is not a fresh local id", e.Content, e.ID)
		}
		seen[e.ID] = true
	}
}

func TestPromoteWithoutIDKeepsEntry(t *testing.T) {
	tl := New("u2")
	tl.AppendPending(pending("tmp-1", "hello"))

	echo := msg("", "me", "u2", "hello")
	echo.TempID = "tmp-1"
	if !tl.Promote("tmp-1", echo) {
		t.Fatal("Promote returned false")
	}
	entries := tl.Entries()
	if len(entries) != 1 || entries[0].Pending || !entries[0].ID.IsLocal() || entries[0].Content != "hello" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPromoteWhenAlreadyConfirmedDropsPending(t *testing.T) {
	tl := New("u2")
	tl.Append(msg("42", "me", "u2", "hello"))
	tl.AppendPending(pending("tmp-1", "hello"))

	tl.Promote("tmp-1", msg("42", "me", "u2", "hello"))
	if got := ids(tl); !equal(got, []string{"42"}) {
		t.Fatalf("entries = %v, want [42]", got)
	}
}

func TestAppendStaysAheadOfPending(t *testing.T) {
	tl := New("u2")
	tl.AppendPending(pending("tmp-1", "mine"))
	if !tl.Append(msg("7", "u2", "me", "theirs")) {
		t.Fatal("Append returned false")
	}
	if tl.Append(msg("7", "u2", "me", "theirs")) {
		t.Error("duplicate Append returned true")
	}
	if got := ids(tl); !equal(got, []string{"7", "~tmp-1"}) {
		t.Fatalf("entries = %v", got)
	}
}

func TestMergeOlder(t *testing.T) {
	tests := []struct {
		name      string
		existing  []imtypes.Message
		older     []imtypes.Message
		wantNovel int
		want      []string
	}{
		{
			name:      "prepends in order",
			existing:  []imtypes.Message{msg("10", "u2", "me", "x"), msg("11", "u2", "me", "y")},
			older:     []imtypes.Message{msg("8", "u2", "me", "a"), msg("9", "me", "u2", "b")},
			wantNovel: 2,
			want:      []string{"8", "9", "10", "11"},
		},
		{
			name:      "all duplicates",
			existing:  []imtypes.Message{msg("10", "u2", "me", "x"), msg("11", "u2", "me", "y")},
			older:     []imtypes.Message{msg("10", "u2", "me", "x"), msg("11", "u2", "me", "y")},
			wantNovel: 0,
			want:      []string{"10", "11"},
		},
		{
			name:      "overlapping page",
			existing:  []imtypes.Message{msg("10", "u2", "me", "x"), msg("11", "u2", "me", "y")},
			older:     []imtypes.Message{msg("9", "u2", "me", "a"), msg("10", "u2", "me", "x")},
			wantNovel: 1,
			want:      []string{"9", "10", "11"},
		},
		{
			name:      "unordered ids keep batch order at head",
			existing:  []imtypes.Message{msg("c", "u2", "me", "x")},
			older:     []imtypes.Message{msg("a", "u2", "me", "a"), msg("b", "u2", "me", "b")},
			wantNovel: 2,
			want:      []string{"a", "b", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := New("u2")
			tl.Reset(tt.existing, nil)
			if got := tl.MergeOlder(tt.older); got != tt.wantNovel {
				t.Errorf("novel = %d, want %d", got, tt.wantNovel)
			}
			if got := ids(tl); !equal(got, tt.want) {
				t.Errorf("entries = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeOlderPromotesPendingEcho(t *testing.T) {
	tl := New("u2")
	tl.AppendPending(pending("tmp-1", "hello"))
	echo := msg("42", "me", "u2", "hello")
	echo.TempID = "tmp-1"

	if novel := tl.MergeOlder([]imtypes.Message{echo}); novel != 0 {
		t.Errorf("novel = %d, want 0", novel)
	}
	if got := ids(tl); !equal(got, []string{"42"}) {
		t.Errorf("entries = %v", got)
	}
}

func TestMarkDeletedConfirmedOnly(t *testing.T) {
	tl := New("u2")
	tl.Append(msg("5", "u2", "me", "secret"))
	tl.AppendPending(pending("tmp-1", "draft"))

	if n := tl.MarkDeleted([]imtypes.ID{"5", "tmp-1", "404"}); n != 1 {
		t.Fatalf("MarkDeleted = %d, want 1", n)
	}
	entries := tl.Entries()
	if entries[0].Type != imtypes.DeletedMessageType || entries[0].Content != "" {
		t.Errorf("confirmed entry not blanked: %+v", entries[0])
	}
	if entries[1].Content != "draft" {
		t.Errorf("pending entry touched: %+v", entries[1])
	}
	if n := tl.MarkDeleted([]imtypes.ID{"5"}); n != 0 {
		t.Errorf("second MarkDeleted = %d, want 0", n)
	}
}

func TestMarkSeenOwnConfirmedOnly(t *testing.T) {
	tl := New("u2")
	tl.Append(msg("1", "me", "u2", "mine"))
	tl.Append(msg("2", "u2", "me", "theirs"))
	tl.AppendPending(pending("tmp-1", "in flight"))

	if n := tl.MarkSeen("me"); n != 1 {
		t.Fatalf("MarkSeen = %d, want 1", n)
	}
	entries := tl.Entries()
	if entries[0].Status != imtypes.StatusSeen {
		t.Error("own confirmed message not marked seen")
	}
	if entries[1].Status == imtypes.StatusSeen || entries[2].Status == imtypes.StatusSeen {
		t.Error("seen applied to inbound or pending entry")
	}
}

func TestOrderingByCreatedAt(t *testing.T) {
	a := msg("x", "u2", "me", "a")
	a.CreatedAt = 1000
	b := msg("y", "u2", "me", "b")
	b.CreatedAt = 2000
	tl := New("u2")
	tl.Reset([]imtypes.Message{b, a}, nil)
	if got := ids(tl); !equal(got, []string{"x", "y"}) {
		t.Errorf("entries = %v, want [x y]", got)
	}
}
