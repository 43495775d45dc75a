package auth

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// emailRe checks the RFC 5322 addr-spec shape: one @, a non-empty local
// part, a dotted domain. Deliverability is out of scope.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// Failure reasons recorded on audit rows. Clients only ever see the
// generic invalid-credentials message.
const (
	reasonUserNotFound       = "user_not_found"
	reasonWrongPassword      = "wrong_password"
	reasonAccountLocked      = "account_locked"
	reasonNoPassword         = "no_password_set"
	reasonEmailNotVerified   = "email_not_verified"
	reasonProviderDisabled   = "provider_disabled"
	reasonInvalidOAuthState  = "invalid_state"
	reasonIDTokenRejected    = "id_token_rejected"
	reasonCodeExchangeFailed = "code_exchange_failed"
)

// PasswordProviderConfig carries the lockout policy.
type PasswordProviderConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	RequireVerified  bool
}

// PasswordProvider authenticates users by email and password. It owns
// the password policy, the bcrypt hashing and the lockout bookkeeping.
type PasswordProvider struct {
	users  Users
	hasher PasswordHasher
	audits AuditLog
	cfg    PasswordProviderConfig
	log    zerolog.Logger
}

func NewPasswordProvider(users Users, hasher PasswordHasher, audits AuditLog, cfg PasswordProviderConfig) *PasswordProvider {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 30 * time.Minute
	}
	return &PasswordProvider{
		users:  users,
		hasher: hasher,
		audits: audits,
		cfg:    cfg,
		log:    logger.Component("auth_password"),
	}
}

func (p *PasswordProvider) Name() string                    { return domain.AuthProviderPassword }
func (p *PasswordProvider) SupportsPasswordReset() bool     { return true }
func (p *PasswordProvider) SupportsEmailVerification() bool { return true }

// Register validates the email shape and the password policy, hashes the
// password and inserts the user row together with its user_registered
// audit record in one transaction.
func (p *PasswordProvider) Register(ctx context.Context, creds Credentials, profile domain.Profile) (Result, error) {
	email := domain.NormalizeEmail(creds.Email)
	if !emailRe.MatchString(email) {
		return Result{}, domain.ErrInvalidField("email", "not a valid email address")
	}
	if err := security.ValidatePassword(creds.Password, email); err != nil {
		return Result{}, err
	}
	if err := domain.ValidateProfile(profile); err != nil {
		return Result{}, err
	}

	hash, err := p.hasher.Hash(creds.Password)
	if err != nil {
		return Result{}, err
	}

	u := domain.User{
		Email:        email,
		AuthProvider: domain.AuthProviderPassword,
		PasswordHash: &hash,
		Profile:      profile,
	}
	rec := domain.AuditRecord{
		EventType: domain.AuditUserRegistered,
		Email:     email,
		Provider:  p.Name(),
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	}
	created, err := p.users.Create(ctx, u, rec)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordRegistration()

	res := Success(created.ID, created.Email)
	res.Metadata = map[string]string{
		"password_strength": strconv.Itoa(security.PasswordStrength(creds.Password)),
	}
	if p.cfg.RequireVerified {
		res.Status = StatusRequiresVerification
	}
	return res, nil
}

// Authenticate looks the user up, enforces the lockout policy and
// verifies the hash. Every outcome appends an audit record; the reasons
// recorded there never reach the client.
func (p *PasswordProvider) Authenticate(ctx context.Context, creds Credentials) (Result, error) {
	email := domain.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return Failure(reasonWrongPassword), nil
	}

	u, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if domain.Is(err, "user_not_found") {
			p.auditFailure(ctx, "", email, reasonUserNotFound)
			return Failure(reasonUserNotFound), nil
		}
		return Result{}, err
	}

	now := time.Now().UTC()
	if u.Security.LockedAt(now) {
		p.auditFailure(ctx, u.ID, email, reasonAccountLocked)
		return Failure(reasonAccountLocked), nil
	}
	if u.PasswordHash == nil {
		// OAuth-only account; a password can never match.
		p.auditFailure(ctx, u.ID, email, reasonNoPassword)
		return Failure(reasonWrongPassword), nil
	}

	if err := p.hasher.Compare(*u.PasswordHash, creds.Password); err != nil {
		attempts, lockedUntil, ferr := p.users.RecordLoginFailure(ctx, u.ID, p.cfg.MaxLoginAttempts, p.cfg.LockoutDuration)
		if ferr != nil {
			p.log.Warn().Err(ferr).Str("user_id", u.ID).Msg("could not record login failure")
		}
		if lockedUntil != nil {
			p.auditFailure(ctx, u.ID, email, reasonAccountLocked)
			p.log.Warn().Str("user_id", u.ID).Int("attempts", attempts).
				Time("locked_until", *lockedUntil).Msg("account locked after repeated failures")
			return Failure(reasonAccountLocked), nil
		}
		p.auditFailure(ctx, u.ID, email, reasonWrongPassword)
		metrics.RecordLoginFailed()
		return Failure(reasonWrongPassword), nil
	}

	if p.cfg.RequireVerified && !u.EmailVerified {
		p.auditFailure(ctx, u.ID, email, reasonEmailNotVerified)
		return Result{Status: StatusRequiresVerification, UserID: u.ID, Email: u.Email}, nil
	}

	if err := p.users.RecordLoginSuccess(ctx, u.ID); err != nil {
		p.log.Warn().Err(err).Str("user_id", u.ID).Msg("could not clear login failure counters")
	}
	p.append(ctx, domain.AuditRecord{
		EventType: domain.AuditLoginSuccess,
		UserID:    u.ID,
		Email:     email,
		Provider:  p.Name(),
		IPAddress: reqctx.Device(ctx).IPAddress,
		Success:   true,
	})
	metrics.RecordLogin()
	return Success(u.ID, u.Email), nil
}

func (p *PasswordProvider) auditFailure(ctx context.Context, userID, email, reason string) {
	p.append(ctx, domain.AuditRecord{
		EventType:     domain.AuditLoginFailed,
		UserID:        userID,
		Email:         email,
		Provider:      p.Name(),
		IPAddress:     reqctx.Device(ctx).IPAddress,
		Success:       false,
		FailureReason: reason,
	})
}

func (p *PasswordProvider) append(ctx context.Context, rec domain.AuditRecord) {
	if err := p.audits.Append(ctx, rec); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		p.log.Warn().Err(err).Str("event", rec.EventType).Msg("audit append failed")
	}
}
