package domain

import "time"

// Session represents the authenticated identity for the current run.
// It is replaced wholesale on every auth-state change and cleared on
// sign-out; fields are never mutated in place.
type Session struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Authenticated reports whether the session carries a bearer credential.
// A nil session is unauthenticated.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Expired reports whether the access token is past its expiry. Sessions
// without a known expiry are treated as live until the provider says
// otherwise.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
