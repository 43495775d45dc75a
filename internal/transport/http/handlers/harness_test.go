package http_handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pantrylab/pantryd/internal/application/auth"
	"github.com/pantrylab/pantryd/internal/application/grocery"
	"github.com/pantrylab/pantryd/internal/application/ordering"
	"github.com/pantrylab/pantryd/internal/audit"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/memory"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/infrastructure/storefront/memstore"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/storefront"
	"github.com/pantrylab/pantryd/internal/transport/http/middleware"
	"github.com/pantrylab/pantryd/internal/transport/http/router"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testEmail    = "alice@example.com"
	testPassword = "Str0ng!passphrase"
)

// -------------------------
// In-memory persistence fakes
// -------------------------

type fakeUsers struct {
	mu       sync.Mutex
	seq      int
	byID     map[string]domain.User
	sessions *fakeSessions
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]domain.User)}
}

func (f *fakeUsers) Create(ctx context.Context, u domain.User, rec domain.AuditRecord) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return domain.User{}, domain.ErrEmailAlreadyExists()
		}
	}
	f.seq++
	u.ID = "user-" + strconv.Itoa(f.seq)
	u.CreatedAt = time.Now().UTC()
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
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
	u := f.byID[userID]
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
	u := f.byID[userID]
	u.Security.FailedLoginAttempts++
	var lockedUntil *time.Time
	if u.Security.FailedLoginAttempts >= maxAttempts {
		t := time.Now().UTC().Add(lockout)
		lockedUntil = &t
		u.Security.LockedUntil = &t
	}
	f.byID[userID] = u
	return u.Security.FailedLoginAttempts, lockedUntil, nil
}

func (f *fakeUsers) LinkOAuthAccount(ctx context.Context, userID string, acct domain.OAuthAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID[userID]
	u.OAuthAccounts = append(u.OAuthAccounts, acct)
	f.byID[userID] = u
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
	f.byID[userID] = u
	return nil
}

func (f *fakeUsers) SetPasswordResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID[userID]
	u.Security.PasswordResetToken = token
	u.Security.PasswordResetExpires = &expires
	f.byID[userID] = u
	return nil
}

func (f *fakeUsers) GetByResetToken(ctx context.Context, token string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Security.PasswordResetToken == token {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrResetTokenNotFound()
}

func (f *fakeUsers) CompletePasswordReset(ctx context.Context, userID, newHash string, rec domain.AuditRecord) (int64, error) {
	f.mu.Lock()
	u := f.byID[userID]
	u.PasswordHash = &newHash
	u.Security.PasswordResetToken = ""
	u.Security.PasswordResetExpires = nil
	u.Security.FailedLoginAttempts = 0
	u.Security.LockedUntil = nil
	f.byID[userID] = u
	f.mu.Unlock()
	return f.sessions.RevokeAllForUser(ctx, userID)
}

type fakeSessions struct {
	mu   sync.Mutex
	seq  int
	rows map[string]domain.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[string]domain.Session)}
}

func (f *fakeSessions) Create(ctx context.Context, s domain.Session, rec domain.AuditRecord) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	s.ID = "sess-" + strconv.Itoa(f.seq)
	f.rows[s.ID] = s
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
	for id, s := range f.rows {
		if s.RefreshTokenJTI == refreshJTI {
			if s.Revoked || !time.Now().Before(s.ExpiresAt) {
				return domain.Session{}, domain.ErrSessionRevoked()
			}
			s.AccessTokenJTI = newAccessJTI
			s.RefreshTokenJTI = newRefreshJTI
			s.ExpiresAt = newExpiresAt
			f.rows[id] = s
			return s, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound()
}

func (f *fakeSessions) TouchActivity(ctx context.Context, accessJTI string) error { return nil }

func (f *fakeSessions) RevokeByJTI(ctx context.Context, jti string, rec domain.AuditRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.rows {
		if s.AccessTokenJTI == jti || s.RefreshTokenJTI == jti {
			if s.Revoked {
				return false, nil
			}
			now := time.Now().UTC()
			s.Revoked = true
			s.RevokedAt = &now
			f.rows[id] = s
			return true, nil
		}
	}
	return false, nil
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

type fakeAudit struct{}

func (fakeAudit) Append(ctx context.Context, rec domain.AuditRecord) error { return nil }

type fakeLists struct {
	mu   sync.Mutex
	rows map[string]domain.GroceryList // userID + "/" + name
}

func newFakeLists() *fakeLists {
	return &fakeLists{rows: make(map[string]domain.GroceryList)}
}

func listKey(userID, name string) string { return userID + "/" + name }

func (f *fakeLists) Create(ctx context.Context, userID, name string, items []domain.GroceryItem) (domain.GroceryList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := listKey(userID, name)
	if _, ok := f.rows[key]; ok {
		return domain.GroceryList{}, domain.ErrListAlreadyExists(name)
	}
	now := time.Now().UTC()
	l := domain.GroceryList{
		ID:        key,
		UserID:    userID,
		Name:      name,
		Items:     items,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.rows[key] = l
	return l, nil
}

func (f *fakeLists) GetByName(ctx context.Context, userID, name string) (domain.GroceryList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[listKey(userID, name)]
	if !ok {
		return domain.GroceryList{}, domain.ErrListNotFound(name)
	}
	return l, nil
}

func (f *fakeLists) ListByUser(ctx context.Context, userID string) ([]domain.GroceryList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.GroceryList
	for _, l := range f.rows {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLists) ReplaceItems(ctx context.Context, userID, name string, items []domain.GroceryItem, expectedVersion int64) (domain.GroceryList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := listKey(userID, name)
	l, ok := f.rows[key]
	if !ok {
		return domain.GroceryList{}, domain.ErrListNotFound(name)
	}
	if l.Version != expectedVersion {
		return domain.GroceryList{}, domain.ErrVersionConflict("grocery_list")
	}
	l.Items = items
	l.Version++
	l.UpdatedAt = time.Now().UTC()
	f.rows[key] = l
	return l, nil
}

func (f *fakeLists) Delete(ctx context.Context, userID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := listKey(userID, name)
	if _, ok := f.rows[key]; !ok {
		return domain.ErrListNotFound(name)
	}
	delete(f.rows, key)
	return nil
}

// orderSessions hands out memstore drivers keyed by account email.
type orderSessions struct {
	factory   storefront.Factory
	authPaths map[string]string
	live      map[string]storefront.Driver
}

func (f *orderSessions) Get(ctx context.Context, username string) (storefront.Driver, error) {
	if d, ok := f.live[username]; ok {
		return d, nil
	}
	d, err := f.factory(username, f.authPaths[username])
	if err != nil {
		return nil, err
	}
	f.live[username] = d
	return d, nil
}

func (f *orderSessions) Clear(ctx context.Context, username string) (bool, error) {
	d, ok := f.live[username]
	if ok {
		_ = d.Close(ctx)
		delete(f.live, username)
	}
	return ok, nil
}

// -------------------------
// Harness
// -------------------------

type harness struct {
	handler http.Handler
	users   *fakeUsers
	catalog *memstore.Catalog
	orders  *orderSessions
	authDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger.Init("disabled", "json")

	users := newFakeUsers()
	sessions := newFakeSessions()
	users.sessions = sessions
	audits := fakeAudit{}
	mirror := audit.New(logger.Component("test"))

	tokens, err := security.NewTokenService(testSecret, "pantryd-test", 15*time.Minute, 30*24*time.Hour, time.Hour)
	require.NoError(t, err)
	hasher := security.NewBcryptHasher(4)

	svc := auth.NewService(sessions, users, tokens, hasher, audits, mirror)
	svc.RegisterProvider(auth.NewPasswordProvider(users, hasher, audits, auth.PasswordProviderConfig{
		MaxLoginAttempts: 3,
		LockoutDuration:  30 * time.Minute,
	}))

	lists := grocery.NewService(newFakeLists())

	catalog := memstore.NewCatalog(memstore.DefaultProducts())
	authDir := t.TempDir()
	orders := &orderSessions{
		factory:   catalog.Factory(),
		authPaths: make(map[string]string),
		live:      make(map[string]storefront.Driver),
	}
	pipeline := ordering.NewPipeline(orders, memory.NewLoginCache(5*time.Minute), ordering.Config{
		TopN:           3,
		ItemPacing:     time.Millisecond,
		VerifyAttempts: 3,
		VerifySpacing:  time.Millisecond,
	})

	monitor := middleware.NewFaultMonitor(3)
	h, err := router.New(router.Deps{
		Health:  NewHealthHandler(nil, nil),
		Auth:    NewAuthHandler(svc),
		Grocery: NewGroceryHandler(lists),
		Orders:  NewOrdersHandler(pipeline),
		AuthMW:  middleware.Auth(svc),
		Base: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.Device,
			middleware.Metrics,
			monitor.Middleware,
			middleware.SecurityHeaders,
			middleware.BodyLimit(1 << 20),
		},
	})
	require.NoError(t, err)

	return &harness{handler: h, users: users, catalog: catalog, orders: orders, authDir: authDir}
}

// storefrontLogin marks the given account as logged in at the store.
func (hx *harness) storefrontLogin(t *testing.T, username string) {
	t.Helper()
	p := filepath.Join(hx.authDir, fmt.Sprintf("auth_%x", len(hx.orders.authPaths)))
	require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
	hx.orders.authPaths[username] = p
}

func (hx *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	hx.handler.ServeHTTP(rr, req)
	return rr
}

// data decodes the {"data": ...} envelope into dst.
func data(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "body=%s", rr.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body=%s", rr.Body.String())
	return body.Error.Code
}

type tokensPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type authPayload struct {
	UserID           string        `json:"user_id"`
	Email            string        `json:"email"`
	PasswordStrength *int          `json:"password_strength"`
	Tokens           tokensPayload `json:"tokens"`
}

// register creates the default test user and returns its tokens.
func (hx *harness) register(t *testing.T) authPayload {
	t.Helper()
	rr := hx.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	require.Equal(t, http.StatusCreated, rr.Code, "body=%s", rr.Body.String())
	var out authPayload
	data(t, rr, &out)
	return out
}
