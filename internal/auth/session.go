package auth

import "time"

// Session is the authenticated identity a transport connects with. It outlives
// individual connections: a dropped socket keeps the session, logout or token
// expiry ends it.
type Session struct {
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time

	// Attempts counts consecutive failed connection attempts. Reset on every successful open.
	Attempts int

	invalidated bool
}

// NewSession builds a session from a login result. Identity and expiry missing
// from the arguments are filled from the token when it is a JWT; opaque tokens
// are accepted as they are.
func NewSession(token, userID, username string) *Session {
	s := &Session{UserID: userID, Username: username, Token: token}
	if claims, err := ParseToken(token); err == nil {
		if s.UserID == "" {
			s.UserID = claims.Identity()
		}
		if s.Username == "" {
			s.Username = claims.Username
		}
		s.ExpiresAt = claims.Expiry()
	}
	return s
}

// Self is the identity used in from/to fields on the wire.
func (s *Session) Self() string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.Username
}

// Valid reports whether the session may still (re)connect at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.invalidated || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Invalidate ends the session. It cannot be revived.
func (s *Session) Invalidate() { s.invalidated = true }
