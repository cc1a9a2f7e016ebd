package auth

import (
	"fmt"
	"time"

	"im-sync/internal/imtypes"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the parts of a backend-issued JWT the client cares about.
// The client holds no signing key, so it reads identity and expiry only.
type Claims struct {
	UserID       imtypes.ID `json:"user_id,omitempty"`
	LegacyUserID imtypes.ID `json:"userId,omitempty"`
	Username     string     `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the user id carried by the token, checking the current
// claim name, the older camel-case one, then the subject.
func (c *Claims) Identity() string {
	switch {
	case c.UserID != "":
		return string(c.UserID)
	case c.LegacyUserID != "":
		return string(c.LegacyUserID)
	default:
		return c.Subject
	}
}

// Expiry returns the exp claim, or the zero time when the token never expires.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ParseToken decodes a JWT without verifying its signature.
func ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}
	return claims, nil
}
