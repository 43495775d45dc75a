package domain

import "time"

// OAuthAccount links an external OAuth provider identity to a user.
// Linking is append-only: accounts are pushed onto the user row, never rewritten.
type OAuthAccount struct {
	Provider       string // google
	ProviderUserID string // sub from provider
	Email          string // cached for lookup
	LinkedAt       time.Time
	ProfileBlob    map[string]any
}

// OAuthProviderName represents supported OAuth providers.
type OAuthProviderName string

const (
	OAuthGoogle OAuthProviderName = "google"
)

// IsValidOAuthProvider checks if the provider is supported.
func IsValidOAuthProvider(p string) bool {
	switch OAuthProviderName(p) {
	case OAuthGoogle:
		return true
	default:
		return false
	}
}
