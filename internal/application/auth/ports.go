package auth

import (
	"context"
	"time"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
)

// Users is the persistence port for user rows. Satisfied by the mongodb
// user repository; tests substitute fakes.
type Users interface {
	Create(ctx context.Context, u domain.User, rec domain.AuditRecord) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)

	RecordLoginSuccess(ctx context.Context, userID string) error
	// RecordLoginFailure bumps the failure counter and returns the new
	// count plus the lockout deadline when the threshold was reached.
	RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockout time.Duration) (int, *time.Time, error)

	LinkOAuthAccount(ctx context.Context, userID string, acct domain.OAuthAccount) error
	UpdateProfile(ctx context.Context, userID string, p domain.Profile) error

	SetPasswordResetToken(ctx context.Context, userID, token string, expires time.Time) error
	GetByResetToken(ctx context.Context, token string) (domain.User, error)
	// CompletePasswordReset swaps the hash, clears reset/lockout state,
	// revokes all live sessions and appends the audit record atomically.
	CompletePasswordReset(ctx context.Context, userID, newHash string, rec domain.AuditRecord) (int64, error)
}

// Sessions is the persistence port for token-pair session rows.
type Sessions interface {
	// Create writes the session row and the tokens_issued audit record
	// together. A token pair must not be handed out unless this succeeds.
	Create(ctx context.Context, s domain.Session, rec domain.AuditRecord) (domain.Session, error)
	GetByAccessJTI(ctx context.Context, jti string) (domain.Session, error)
	GetByRefreshJTI(ctx context.Context, jti string) (domain.Session, error)
	// Rotate swaps both JTIs in one update; there is no moment where the
	// old and the new pair are both routable.
	Rotate(ctx context.Context, refreshJTI, newAccessJTI, newRefreshJTI string, newExpiresAt time.Time, rec domain.AuditRecord) (domain.Session, error)
	TouchActivity(ctx context.Context, accessJTI string) error
	RevokeByJTI(ctx context.Context, jti string, rec domain.AuditRecord) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// AuditLog appends standalone audit records, outside any transaction.
type AuditLog interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

// Tokens is the signing service port. The concrete implementation is the
// HS256 token service; tests may substitute one with short TTLs.
type Tokens interface {
	IssueAccess(userID, email string) (string, security.Claims, error)
	IssueRefresh(userID, email string) (string, security.Claims, error)
	IssueReset(userID, email string) (string, security.Claims, error)
	Validate(token string, kind security.TokenKind) (security.Claims, bool)
	DecodeUnchecked(token string) (security.Claims, error)
}

// PasswordHasher abstracts the adaptive password hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash string, password string) error // nil if match
}

// ExtSessions is the lifecycle hook into the external storefront session
// registry: logout and password changes must tear the user's storefront
// session down.
type ExtSessions interface {
	Clear(ctx context.Context, username string) (bool, error)
}

// ArtifactInvalidator marks a user's cached artifacts stale after a
// profile edit that changes the fingerprint fields.
type ArtifactInvalidator interface {
	InvalidateForUser(username string) (int, error)
}

// EventPublisher pushes audit events to the message broker, best-effort
// and at-most-once. A nil publisher disables publication.
type EventPublisher interface {
	PublishAuditEvent(ctx context.Context, rec domain.AuditRecord) error
}

// OAuthTokens is the provider's token endpoint response.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
}

// OAuthUserInfo is the verified identity extracted from an ID token.
type OAuthUserInfo struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Raw           map[string]any
}

// OAuthClient is the outbound half of an OAuth provider: URL building,
// code exchange and ID-token verification against the IdP's JWKS.
type OAuthClient interface {
	Provider() string
	AuthorizationURL(s PKCESession) string
	Exchange(ctx context.Context, code, verifier string) (OAuthTokens, error)
	VerifyIDToken(ctx context.Context, rawIDToken string) (OAuthUserInfo, error)
}

// StateStore keeps pending PKCE sessions keyed by state between the
// authorization redirect and the callback. Consume is one-shot.
type StateStore interface {
	Save(ctx context.Context, s PKCESession) error
	Consume(ctx context.Context, state string) (PKCESession, bool)
}
