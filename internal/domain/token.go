package domain

import "time"

// RefreshToken persists one rotating refresh token per (user, device).
// Rows are never deleted; revocation and expiry leave an audit trail.
type RefreshToken struct {
	ID         int64
	UserID     int64
	DeviceID   string
	DeviceName string
	TokenHash  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// Usable reports whether the token can still be presented for rotation.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// HandoffPayload is the transient record behind a browser handoff token.
type HandoffPayload struct {
	UserID      int64     `json:"user_id"`
	RedirectURL string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// AccessClaims is the payload of a minted access token.
type AccessClaims struct {
	UserID   int64  `json:"user_id"`
	DeviceID string `json:"device_id"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}
