package domain

import "time"

// Session is one link in a refresh-token rotation chain. The raw refresh
// token is never stored; TokenHash holds its SHA-256 fingerprint.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	ExpiresAt    time.Time
	Revoked      bool
	ReplacedByID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Live reports whether the session can still be presented for rotation.
func (s Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// RotationReason classifies a failed rotation.
type RotationReason string

const (
	RotationNotFound RotationReason = "not_found"
	RotationReplayed RotationReason = "revoked_or_expired"
)

// RotationResult is the outcome of presenting a refresh token for rotation.
// On success OK is true and RawToken carries the replacement token. On a
// replay (Reason == RotationReplayed) UserID identifies the chain that was
// revoked so callers can audit the event.
type RotationResult struct {
	OK       bool
	Reason   RotationReason
	UserID   string
	RawToken string
	Session  Session
}

// TokenPair is what a successful login or rotation hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}
