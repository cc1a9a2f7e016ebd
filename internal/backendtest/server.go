// Package backendtest runs an in-process chat backend for tests: the HTTP
// side channel, a websocket endpoint that echoes chat frames with server ids,
// and an ngrok-style tunnel listing.
package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"im-sync/internal/auth"
	"im-sync/internal/imtypes"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

// User is an account on the fake backend.
type User struct {
	ID       string
	Username string
	Email    string
	Avatar   string

	hash string
}

// Server is a fake backend bound to a local port.
type Server struct {
	*httptest.Server

	t        testing.TB
	secret   []byte
	upgrader websocket.Upgrader
	storage  *localStorage

	mu       sync.Mutex
	users    map[string]*User // by username
	nextUser int
	nextMsg  int
	peers    []*peer
	dials    int
	contacts []imtypes.Contact
	history  map[string][][]imtypes.Message
	tunnels  []map[string]any

	frames chan Frame
}

// New starts a server that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		secret:   []byte("backendtest-secret"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		storage:  newLocalStorage(t.TempDir(), "/static/uploads"),
		users:    make(map[string]*User),
		nextMsg:  1000,
		history:  make(map[string][][]imtypes.Message),
		frames:   make(chan Frame, 1024),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS)
	r.HandleFunc("/api/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/api/register", s.register).Methods(http.MethodPost)
	r.HandleFunc("/api/avatar", s.uploadAvatar).Methods(http.MethodPost)
	r.HandleFunc("/api/tunnels", s.listTunnels).Methods(http.MethodGet)
	r.HandleFunc("/upload/{kind:image|video|file|audio}", s.uploadFile).Methods(http.MethodPost)
	r.PathPrefix("/static/uploads/").Handler(http.StripPrefix("/static/uploads/", http.FileServer(http.Dir(s.storage.basePath))))

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	s.Server = httptest.NewServer(handlers.RecoveryHandler()(cors(r)))
	t.Cleanup(func() {
		s.DropAll()
		s.Server.Close()
	})
	return s
}

// WSURL is the websocket endpoint without a token.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// AddUser registers an account and returns it.
func (s *Server) AddUser(username, password string) User {
	s.t.Helper()
	u, err := s.addUser(username, password, "")
	if err != nil {
		s.t.Fatalf("backendtest: add user %s: %v", username, err)
	}
	return u
}

var errUserExists = errors.New("user already exists")

func (s *Server) addUser(username, password, email string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return User{}, errUserExists
	}
	s.nextUser++
	u := &User{ID: strconv.Itoa(s.nextUser), Username: username, Email: email, hash: string(hash)}
	s.users[username] = u
	return *u, nil
}

func (s *Server) findUser(login string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[login]; ok {
		return u, true
	}
	for _, u := range s.users {
		if u.Email != "" && u.Email == login {
			return u, true
		}
	}
	return nil, false
}

// Token signs a session token for u that expires after ttl.
func (s *Server) Token(u User, ttl time.Duration) string {
	s.t.Helper()
	token, err := s.signToken(u, ttl)
	if err != nil {
		s.t.Fatalf("backendtest: sign token: %v", err)
	}
	return token
}

func (s *Server) signToken(u User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &auth.Claims{
		UserID:   imtypes.ID(u.ID),
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "backendtest",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// validateToken checks signature and expiry and returns the token's user.
func (s *Server) validateToken(tokenString string) (*auth.Claims, error) {
	claims := &auth.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// SetContacts sets what a load_contacts for page 0 returns. Later pages are empty.
func (s *Server) SetContacts(cs ...imtypes.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = cs
}

// SetHistory sets the pages load_history returns for with, newest page first.
func (s *Server) SetHistory(with string, pages ...[]imtypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[with] = pages
}

// SetTunnels sets the entries /api/tunnels lists.
func (s *Server) SetTunnels(tunnels ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnels = tunnels
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u, ok := s.findUser(req.Login)
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(req.Password)) != nil {
		writeJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	user := *u
	s.mu.Unlock()
	token, err := s.signToken(user, time.Hour)
	if err != nil {
		writeJSONError(w, "login failed", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"token":      token,
		"user_id":    user.ID,
		"avatar_url": user.Avatar,
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if _, err := s.addUser(req.Username, req.Password, req.Email); err != nil {
		if errors.Is(err, errUserExists) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSONError(w, "register failed", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]string{"message": "registered"})
}

func (s *Server) listTunnels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tunnels := s.tunnels
	s.mu.Unlock()
	if tunnels == nil {
		tunnels = []map[string]any{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tunnels": tunnels})
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, map[string]string{"error": message})
}
