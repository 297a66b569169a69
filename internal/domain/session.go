// Package domain contains core business types shared by the session store,
// the backend client, and the web handlers.
//
// This file defines the in-memory Session held by the auth store.
package domain

import "time"

// Session is the authenticated identity for the current application run.
//
// It is owned by auth.Store and handed out by value through snapshots;
// the token is the only part that is ever persisted (as the auth cookie).
type Session struct {
	UserID    string
	Email     string
	Token     string     // Opaque bearer token, never decoded by this application
	ExpiresAt *time.Time // Optional; nil when the backend did not say
}

// IsExpired returns true if the session carries an expiry that has passed.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// DisplayName returns the email when known, or a neutral label for a session
// hydrated from a cookie (the verifier only answers valid/invalid).
func (s *Session) DisplayName() string {
	if s.Email != "" {
		return s.Email
	}
	return "Signed-in user"
}
