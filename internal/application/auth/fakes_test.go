package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pantrylab/pantryd/internal/audit"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 bytes

func testTokens(t interface{ Fatalf(string, ...any) }) *security.TokenService {
	svc, err := security.NewTokenService(testSecret, "pantryd-test", 15*time.Minute, 30*24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return svc
}

func testMirror() *audit.Logger {
	logger.Init("disabled", "json")
	return audit.New(logger.Component("test"))
}

// fakeUsers is an in-memory Users port with injectable errors.
type fakeUsers struct {
	mu       sync.Mutex
	seq      int
	byID     map[string]domain.User
	sessions *fakeSessions    // revoked on CompletePasswordReset, like the real repo
	audit    *fakeAudit       // rec sink; the real repo appends in the same transaction
	failOn   map[string]error // method name -> error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]domain.User), failOn: make(map[string]error)}
}

func (f *fakeUsers) err(method string) error { return f.failOn[method] }

func (f *fakeUsers) Create(ctx context.Context, u domain.User, rec domain.AuditRecord) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("Create"); err != nil {
		return domain.User{}, err
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return domain.User{}, domain.ErrEmailAlreadyExists()
		}
	}
	f.seq++
	u.ID = "507f1f77bcf86cd7994390" + strconv.Itoa(10+f.seq)
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	f.byID[u.ID] = u
	if f.audit != nil {
		rec.UserID = u.ID
		rec.Email = u.Email
		_ = f.audit.Append(ctx, rec)
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == domain.NormalizeEmail(email) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound()
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound()
	}
	return u, nil
}

func (f *fakeUsers) RecordLoginSuccess(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrUserNotFound()
	}
	now := time.Now().UTC()
	u.Security.FailedLoginAttempts = 0
	u.Security.LockedUntil = nil
	u.Security.LastLogin = &now
	f.byID[userID] = u
	return nil
}

func (f *fakeUsers) RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return 0, nil, domain.ErrUserNotFound()
	}
	u.Security.FailedLoginAttempts++
	var lockedUntil *time.Time
	if u.Security.FailedLoginAttempts >= maxAttempts {
		until := time.Now().UTC().Add(lockout)
		u.Security.LockedUntil = &until
		lockedUntil = &until
	}
	f.byID[userID] = u
	return u.Security.FailedLoginAttempts, lockedUntil, nil
}

func (f *fakeUsers) LinkOAuthAccount(ctx context.Context, userID string, acct domain.OAuthAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrUserNotFound()
	}
	if !u.HasOAuthAccount(acct.Provider, acct.ProviderUserID) {
		u.OAuthAccounts = append(u.OAuthAccounts, acct)
		f.byID[userID] = u
	}
	return nil
}

func (f *fakeUsers) UpdateProfile(ctx context.Context, userID string, p domain.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrUserNotFound()
	}
	u.Profile = p
	u.IsOnboarded = true
	f.byID[userID] = u
	return nil
}

func (f *fakeUsers) SetPasswordResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrUserNotFound()
	}
	u.Security.PasswordResetToken = token
	u.Security.PasswordResetExpires = &expires
	f.byID[userID] = u
	return nil
}

func (f *fakeUsers) GetByResetToken(ctx context.Context, token string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, u := range f.byID {
		if u.Security.PasswordResetToken == token &&
			u.Security.PasswordResetExpires != nil && now.Before(*u.Security.PasswordResetExpires) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrResetTokenNotFound()
}

func (f *fakeUsers) CompletePasswordReset(ctx context.Context, userID, newHash string, rec domain.AuditRecord) (int64, error) {
	f.mu.Lock()
	u, ok := f.byID[userID]
	if !ok {
		f.mu.Unlock()
		return 0, domain.ErrUserNotFound()
	}
	now := time.Now().UTC()
	u.PasswordHash = &newHash
	u.Security.PasswordResetToken = ""
	u.Security.PasswordResetExpires = nil
	u.Security.FailedLoginAttempts = 0
	u.Security.LockedUntil = nil
	u.Security.LastPasswordChange = &now
	f.byID[userID] = u
	f.mu.Unlock()

	if f.audit != nil {
		_ = f.audit.Append(ctx, rec)
	}
	if f.sessions != nil {
		return f.sessions.RevokeAllForUser(ctx, userID)
	}
	return 0, nil
}

// fakeSessions is an in-memory Sessions port.
type fakeSessions struct {
	mu     sync.Mutex
	seq    int
	rows   map[string]domain.Session // by session id
	audit  *fakeAudit                // rec sink; the real repo appends in the same transaction
	failOn map[string]error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[string]domain.Session), failOn: make(map[string]error)}
}

func (f *fakeSessions) Create(ctx context.Context, s domain.Session, rec domain.AuditRecord) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn["Create"]; err != nil {
		return domain.Session{}, err
	}
	f.seq++
	s.ID = "sess-" + strconv.Itoa(f.seq)
	f.rows[s.ID] = s
	if f.audit != nil {
		_ = f.audit.Append(ctx, rec)
	}
	return s, nil
}

func (f *fakeSessions) GetByAccessJTI(ctx context.Context, jti string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.AccessTokenJTI == jti {
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound()
}

func (f *fakeSessions) GetByRefreshJTI(ctx context.Context, jti string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.RefreshTokenJTI == jti {
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound()
}

func (f *fakeSessions) Rotate(ctx context.Context, refreshJTI, newAccessJTI, newRefreshJTI string, newExpiresAt time.Time, rec domain.AuditRecord) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for id, s := range f.rows {
		if s.RefreshTokenJTI == refreshJTI && !s.Revoked && now.Before(s.ExpiresAt) {
			s.AccessTokenJTI = newAccessJTI
			s.RefreshTokenJTI = newRefreshJTI
			s.ExpiresAt = newExpiresAt
			s.LastActivity = now
			f.rows[id] = s
			if f.audit != nil {
				_ = f.audit.Append(ctx, rec)
			}
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound()
}

func (f *fakeSessions) TouchActivity(ctx context.Context, accessJTI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.rows {
		if s.AccessTokenJTI == accessJTI {
			s.LastActivity = time.Now().UTC()
			f.rows[id] = s
			return nil
		}
	}
	return domain.ErrSessionNotFound()
}

func (f *fakeSessions) RevokeByJTI(ctx context.Context, jti string, rec domain.AuditRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hit := false
	now := time.Now().UTC()
	for id, s := range f.rows {
		if (s.AccessTokenJTI == jti || s.RefreshTokenJTI == jti) && !s.Revoked {
			s.Revoked = true
			s.RevokedAt = &now
			f.rows[id] = s
			hit = true
		}
	}
	if hit && f.audit != nil {
		_ = f.audit.Append(ctx, rec)
	}
	return hit, nil
}

func (f *fakeSessions) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for id, s := range f.rows {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			s.RevokedAt = &now
			f.rows[id] = s
			n++
		}
	}
	return n, nil
}

// fakeAudit records appended events in order.
type fakeAudit struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

func (f *fakeAudit) Append(ctx context.Context, rec domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeAudit) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.recs))
	for _, r := range f.recs {
		out = append(out, r.EventType)
	}
	return out
}

// fakeExt tracks storefront session teardowns.
type fakeExt struct {
	mu      sync.Mutex
	cleared []string
}

func (f *fakeExt) Clear(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, username)
	return true, nil
}

// fakeInvalidator tracks artifact invalidations.
type fakeInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeInvalidator) InvalidateForUser(username string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, username)
	return 1, nil
}
