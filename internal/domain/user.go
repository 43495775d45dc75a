package domain

import (
	"strings"
	"time"
)

// AuthProvider identifies how a user authenticates. OAuth providers are
// stored as "oauth:<name>" so the password/oauth split survives in queries.
const (
	AuthProviderPassword = "password"
)

func OAuthAuthProvider(name string) string {
	return "oauth:" + name
}

func IsOAuthProvider(p string) bool {
	return strings.HasPrefix(p, "oauth:")
}

// Security holds the mutable account-protection state stored on the user row.
type Security struct {
	FailedLoginAttempts  int
	LockedUntil          *time.Time
	LastLogin            *time.Time
	LastPasswordChange   *time.Time
	PasswordResetToken   string
	PasswordResetExpires *time.Time
}

// LockedAt reports whether the account is locked at the given instant.
func (s Security) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// User is the account aggregate. Email is unique and lowercase-normalized.
// PasswordHash is nil iff the account is OAuth-only.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	AuthProvider  string
	PasswordHash  *string
	OAuthAccounts []OAuthAccount
	Profile       Profile
	Security      Security
	IsOnboarded   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasOAuthAccount reports whether the given provider identity is already linked.
func (u User) HasOAuthAccount(provider, providerUserID string) bool {
	for _, a := range u.OAuthAccounts {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
