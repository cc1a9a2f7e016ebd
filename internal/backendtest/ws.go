package backendtest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"im-sync/internal/imtypes"

	"github.com/gorilla/websocket"
)

// Frame is one frame a client sent over the websocket.
type Frame struct {
	User string
	Type imtypes.FrameType
	Raw  []byte
}

// Decode unmarshals the frame into v.
func (f Frame) Decode(v any) error { return json.Unmarshal(f.Raw, v) }

// peer is one accepted websocket. gorilla allows a single concurrent writer.
type peer struct {
	user string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.validateToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{user: claims.Identity(), conn: conn}
	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.dials++
	s.mu.Unlock()

	defer s.removePeer(p)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(p, data)
	}
}

func (s *Server) removePeer(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.peers {
		if q == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			break
		}
	}
	p.conn.Close()
}

func (s *Server) handleFrame(p *peer, data []byte) {
	var head struct {
		Type imtypes.FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return
	}
	select {
	case s.frames <- Frame{User: p.user, Type: head.Type, Raw: data}:
	default:
	}

	switch head.Type {
	case imtypes.LoadContactsFrame:
		var req imtypes.LoadContacts
		json.Unmarshal(data, &req)
		s.mu.Lock()
		var page []imtypes.Contact
		if req.Page == 0 {
			page = s.contacts
		}
		s.mu.Unlock()
		if page == nil {
			page = []imtypes.Contact{}
		}
		p.write(imtypes.Contacts{Type: imtypes.ContactsFrame, Contacts: page})

	case imtypes.LoadHistoryFrame:
		var req imtypes.LoadHistory
		json.Unmarshal(data, &req)
		s.mu.Lock()
		var msgs []imtypes.Message
		if pages := s.history[req.With]; req.Page >= 0 && req.Page < len(pages) {
			msgs = pages[req.Page]
		}
		s.mu.Unlock()
		if msgs == nil {
			msgs = []imtypes.Message{}
		}
		page := req.Page
		p.write(imtypes.History{Type: imtypes.HistoryFrame, With: req.With, Page: &page, Messages: msgs})

	default:
		if !isChat(head.Type) {
			return
		}
		var m imtypes.Message
		if json.Unmarshal(data, &m) != nil {
			return
		}
		s.mu.Lock()
		s.nextMsg++
		m.ID = imtypes.ID(strconv.Itoa(s.nextMsg))
		s.mu.Unlock()
		m.From = p.user
		m.CreatedAt = time.Now().UnixMilli()
		m.Status = imtypes.StatusSent
		// Echo to the sender with its tempId, then deliver to the recipient.
		p.write(m)
		s.deliver(m)
	}
}

// deliver writes m to every connection of its recipient.
func (s *Server) deliver(m imtypes.Message) {
	m.TempID = ""
	for _, q := range s.snapshotPeers() {
		if q.user == m.To {
			q.write(m)
		}
	}
}

func isChat(t imtypes.FrameType) bool {
	for _, kind := range imtypes.ChatMessageTypes {
		if imtypes.FrameType(kind) == t {
			return true
		}
	}
	return false
}

func (s *Server) snapshotPeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*peer(nil), s.peers...)
}

// Push writes frame to every connection of user. It returns how many
// connections it reached.
func (s *Server) Push(user string, frame any) int {
	n := 0
	for _, p := range s.snapshotPeers() {
		if p.user == user && p.write(frame) == nil {
			n++
		}
	}
	return n
}

// PushRaw writes payload unchanged, e.g. several frames joined by newlines.
func (s *Server) PushRaw(user string, payload []byte) int {
	n := 0
	for _, p := range s.snapshotPeers() {
		if p.user != user {
			continue
		}
		p.mu.Lock()
		err := p.conn.WriteMessage(websocket.TextMessage, payload)
		p.mu.Unlock()
		if err == nil {
			n++
		}
	}
	return n
}

// DropAll closes every websocket without a close handshake, like a server crash.
func (s *Server) DropAll() {
	for _, p := range s.snapshotPeers() {
		p.conn.Close()
	}
}

// Dials counts the websocket connections accepted so far.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Connected reports how many websockets user currently holds.
func (s *Server) Connected(user string) int {
	n := 0
	for _, p := range s.snapshotPeers() {
		if p.user == user {
			n++
		}
	}
	return n
}

// WaitFrame returns the next frame of type typ, skipping others. It fails the
// test after timeout.
func (s *Server) WaitFrame(t testing.TB, typ imtypes.FrameType, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-s.frames:
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("backendtest: no %s frame within %s", typ, timeout)
			return Frame{}
		}
	}
}
