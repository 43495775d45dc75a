package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// OAuthProvider authenticates through an external identity provider with
// an authorization-code + PKCE flow. Registration and authentication are
// the same operation: the user is provisioned on first login and linked
// on subsequent ones.
type OAuthProvider struct {
	client         OAuthClient
	users          Users
	states         StateStore
	audits         AuditLog
	defaultProfile domain.Profile
	log            zerolog.Logger
}

func NewOAuthProvider(client OAuthClient, users Users, states StateStore, audits AuditLog, defaultProfile domain.Profile) *OAuthProvider {
	return &OAuthProvider{
		client:         client,
		users:          users,
		states:         states,
		audits:         audits,
		defaultProfile: defaultProfile,
		log:            logger.Component("auth_oauth_" + client.Provider()),
	}
}

func (p *OAuthProvider) Name() string                    { return domain.OAuthAuthProvider(p.client.Provider()) }
func (p *OAuthProvider) SupportsPasswordReset() bool     { return false }
func (p *OAuthProvider) SupportsEmailVerification() bool { return false }

// BeginAuthorization creates a PKCE session, stores it keyed by state and
// returns the provider authorization URL for the user's browser.
func (p *OAuthProvider) BeginAuthorization(ctx context.Context) (authURL, state string, err error) {
	s, err := NewPKCESession()
	if err != nil {
		return "", "", err
	}
	if err := p.states.Save(ctx, s); err != nil {
		return "", "", err
	}
	return p.client.AuthorizationURL(s), s.State, nil
}

// Register delegates to Authenticate: OAuth accounts are provisioned on
// first successful login, there is no separate registration step.
func (p *OAuthProvider) Register(ctx context.Context, creds Credentials, _ domain.Profile) (Result, error) {
	return p.Authenticate(ctx, creds)
}

// Authenticate completes the callback half of the flow: the presented
// state must match a pending PKCE session, the code is exchanged with the
// stored verifier, and the resulting ID token is verified against the
// provider's JWKS before any account is touched.
func (p *OAuthProvider) Authenticate(ctx context.Context, creds Credentials) (Result, error) {
	if creds.Code == "" || creds.State == "" {
		return Failure(reasonInvalidOAuthState), nil
	}

	pending, ok := p.states.Consume(ctx, creds.State)
	if !ok {
		p.auditFailure(ctx, "", reasonInvalidOAuthState)
		return Failure(reasonInvalidOAuthState), nil
	}

	toks, err := p.client.Exchange(ctx, creds.Code, pending.Verifier)
	if err != nil {
		p.log.Warn().Err(err).Msg("authorization code exchange failed")
		p.auditFailure(ctx, "", reasonCodeExchangeFailed)
		return Failure(reasonCodeExchangeFailed), nil
	}

	info, err := p.client.VerifyIDToken(ctx, toks.IDToken)
	if err != nil {
		p.log.Warn().Err(err).Msg("id token verification failed")
		p.auditFailure(ctx, "", reasonIDTokenRejected)
		return Failure(reasonIDTokenRejected), nil
	}

	u, created, err := p.provisionOrLink(ctx, info)
	if err != nil {
		return Result{}, err
	}

	p.append(ctx, domain.AuditRecord{
		EventType: domain.AuditLoginSuccess,
		UserID:    u.ID,
		Email:     u.Email,
		Provider:  p.Name(),
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	})
	metrics.RecordLogin()

	res := Success(u.ID, u.Email)
	if created {
		res.Metadata = map[string]string{"new_user": "true"}
	}
	return res, nil
}

// provisionOrLink resolves the verified identity to a local account:
// an existing user gets the OAuth identity appended (idempotently), a
// new user is created with a nil password hash.
func (p *OAuthProvider) provisionOrLink(ctx context.Context, info OAuthUserInfo) (domain.User, bool, error) {
	email := domain.NormalizeEmail(info.Email)
	acct := domain.OAuthAccount{
		Provider:       info.Provider,
		ProviderUserID: info.Subject,
		Email:          email,
		LinkedAt:       time.Now().UTC(),
		ProfileBlob:    info.Raw,
	}

	u, err := p.users.GetByEmail(ctx, email)
	if err == nil {
		if !u.HasOAuthAccount(info.Provider, info.Subject) {
			if err := p.users.LinkOAuthAccount(ctx, u.ID, acct); err != nil {
				return domain.User{}, false, err
			}
		}
		return u, false, nil
	}
	if !domain.Is(err, "user_not_found") {
		return domain.User{}, false, err
	}

	newUser := domain.User{
		Email:         email,
		EmailVerified: info.EmailVerified,
		AuthProvider:  p.Name(),
		PasswordHash:  nil,
		OAuthAccounts: []domain.OAuthAccount{acct},
		Profile:       p.defaultProfile,
	}
	rec := domain.AuditRecord{
		EventType: domain.AuditUserRegistered,
		Email:     email,
		Provider:  p.Name(),
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	}
	created, err := p.users.Create(ctx, newUser, rec)
	if err != nil {
		return domain.User{}, false, err
	}
	metrics.RecordRegistration()
	p.log.Info().Str("user_id", created.ID).Msg("provisioned user from oauth identity")
	return created, true, nil
}

func (p *OAuthProvider) auditFailure(ctx context.Context, userID, reason string) {
	p.append(ctx, domain.AuditRecord{
		EventType:     domain.AuditLoginFailed,
		UserID:        userID,
		Provider:      p.Name(),
		IPAddress:     reqctx.Device(ctx).IPAddress,
		Success:       false,
		FailureReason: reason,
	})
}

func (p *OAuthProvider) append(ctx context.Context, rec domain.AuditRecord) {
	if err := p.audits.Append(ctx, rec); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		p.log.Warn().Err(err).Str("event", rec.EventType).Msg("audit append failed")
	}
}
