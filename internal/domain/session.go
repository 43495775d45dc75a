package domain

import "time"

// DeviceInfo is request-scoped client metadata captured at session creation.
type DeviceInfo struct {
	IPAddress string
	Interface string // http, cli
	UserAgent string
}

// Session is an issued token pair's server-side row. AccessTokenJTI is
// globally unique; a session is usable iff not revoked and not past expiry.
// A TTL index on ExpiresAt removes stale rows in the background.
type Session struct {
	ID              string
	UserID          string
	AccessTokenJTI  string
	RefreshTokenJTI string
	DeviceInfo      DeviceInfo
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastActivity    time.Time
	Revoked         bool
	RevokedAt       *time.Time
}

// UsableAt reports whether the session can authorize requests at the given instant.
func (s Session) UsableAt(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// SessionInfo is what token validation hands to callers: enough to
// authorize a request without exposing the full session row.
type SessionInfo struct {
	UserID    string
	Email     string
	SessionID string
	ExpiresAt time.Time
}
