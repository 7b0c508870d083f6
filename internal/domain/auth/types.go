package auth

// Package auth contains domain-level types for authenticated API callers.
// It is pure and free of framework/adapter concerns.

import "time"

// Identity represents the authenticated principal behind a bearer token.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID    string // stable user identifier (e.g., samAccountName or sub)
	Email     string
	Groups    []string
	ExpiresAt time.Time // absolute expiry from the IdP token
}

// Expired reports whether the identity's token has expired at now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Owns reports whether the identity may act on analyses of userID.
func (i Identity) Owns(userID string) bool {
	return i.UserID != "" && i.UserID == userID
}
