package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Str0ng!passphrase"
)

func newTestService(t *testing.T) (*Service, *fakeUsers, *fakeSessions, *fakeAudit) {
	t.Helper()
	users := newFakeUsers()
	sessions := newFakeSessions()
	users.sessions = sessions
	audits := &fakeAudit{}
	users.audit = audits
	sessions.audit = audits
	tokens := testTokens(t)
	hasher := security.NewBcryptHasher(4) // min cost, tests only

	svc := NewService(sessions, users, tokens, hasher, audits, testMirror())
	svc.RegisterProvider(NewPasswordProvider(users, hasher, audits, PasswordProviderConfig{
		MaxLoginAttempts: 3,
		LockoutDuration:  30 * time.Minute,
	}))
	return svc, users, sessions, audits
}

func registerTestUser(t *testing.T, svc *Service) (Result, *TokenPair) {
	t.Helper()
	res, pair, err := svc.RegisterUser(context.Background(), domain.AuthProviderPassword, Credentials{
		Email:    testEmail,
		Password: testPassword,
	}, domain.Profile{DietTypes: []string{"Vegetarian"}})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, pair)
	return res, pair
}

func TestRegisterIssuesPairBackedBySession(t *testing.T) {
	svc, _, sessions, audits := newTestService(t)
	res, pair := registerTestUser(t, svc)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEmpty(t, pair.SessionID)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	// The session row must exist and carry both JTIs before the pair is
	// handed out.
	sess, ok := sessions.rows[pair.SessionID]
	require.True(t, ok)
	assert.Equal(t, res.UserID, sess.UserID)
	assert.NotEmpty(t, sess.AccessTokenJTI)
	assert.NotEmpty(t, sess.RefreshTokenJTI)

	assert.Contains(t, audits.events(), domain.AuditUserRegistered)
	assert.Contains(t, audits.events(), domain.AuditTokensIssued)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		creds Credentials
	}{
		{"malformed email", Credentials{Email: "not-an-email", Password: testPassword}},
		{"short password", Credentials{Email: testEmail, Password: "short"}},
		{"password contains email", Credentials{Email: testEmail, Password: "alice@example.com1!A"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, pair, err := svc.RegisterUser(ctx, domain.AuthProviderPassword, tc.creds, domain.Profile{})
			assert.Error(t, err)
			assert.Nil(t, pair)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, pair, err := svc.RegisterUser(context.Background(), domain.AuthProviderPassword, Credentials{
		Email:    testEmail,
		Password: testPassword,
	}, domain.Profile{})
	require.Error(t, err)
	assert.True(t, domain.Is(err, "email_already_exists"))
	assert.Nil(t, pair)
}

func TestAuthenticateWrongPasswordIsAFailureValue(t *testing.T) {
	svc, _, _, audits := newTestService(t)
	registerTestUser(t, svc)

	res, pair, err := svc.AuthenticateUser(context.Background(), domain.AuthProviderPassword, Credentials{
		Email:    testEmail,
		Password: "Wrong!passphrase9",
	})
	require.NoError(t, err, "bad credentials are an outcome, not an error")
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, reasonWrongPassword, res.Reason)
	assert.Nil(t, pair)
	assert.Contains(t, audits.events(), domain.AuditLoginFailed)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	res, pair, err := svc.AuthenticateUser(context.Background(), domain.AuthProviderPassword, Credentials{
		Email:    "nobody@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, reasonUserNotFound, res.Reason)
	assert.Nil(t, pair)
}

func TestAuthenticateUnknownProvider(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, _, err := svc.AuthenticateUser(context.Background(), "carrier-pigeon", Credentials{})
	require.Error(t, err)
	assert.True(t, domain.Is(err, "auth_failed"))
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	svc, users, _, _ := newTestService(t)
	res, _ := registerTestUser(t, svc)
	ctx := context.Background()
	bad := Credentials{Email: testEmail, Password: "Wrong!passphrase9"}

	for i := 0; i < 2; i++ {
		out, _, err := svc.AuthenticateUser(ctx, domain.AuthProviderPassword, bad)
		require.NoError(t, err)
		assert.Equal(t, reasonWrongPassword, out.Reason)
	}

	// Third failure trips the lockout.
	out, _, err := svc.AuthenticateUser(ctx, domain.AuthProviderPassword, bad)
	require.NoError(t, err)
	assert.Equal(t, reasonAccountLocked, out.Reason)

	u, err := users.GetByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, u.Security.LockedAt(time.Now().UTC()))

	// Even the correct password is refused while locked.
	out, pair, err := svc.AuthenticateUser(ctx, domain.AuthProviderPassword, Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, reasonAccountLocked, out.Reason)
	assert.Nil(t, pair)
}

func TestLoginSuccessClearsFailureCounter(t *testing.T) {
	svc, users, _, _ := newTestService(t)
	res, _ := registerTestUser(t, svc)
	ctx := context.Background()

	_, _, err := svc.AuthenticateUser(ctx, domain.AuthProviderPassword, Credentials{Email: testEmail, Password: "Wrong!passphrase9"})
	require.NoError(t, err)

	out, pair, err := svc.AuthenticateUser(ctx, domain.AuthProviderPassword, Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, out.Status)
	require.NotNil(t, pair)

	u, err := users.GetByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.Zero(t, u.Security.FailedLoginAttempts)
	assert.NotNil(t, u.Security.LastLogin)
}

func TestValidateSessionRoundTrip(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	res, pair := registerTestUser(t, svc)
	ctx := context.Background()

	info, err := svc.ValidateSession(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.UserID, info.UserID)
	assert.Equal(t, testEmail, info.Email)
	assert.Equal(t, pair.SessionID, info.SessionID)

	u, err := svc.CurrentUser(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, testEmail, u.Email)
}

func TestValidateSessionRejectsGarbageAndWrongKind(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, pair := registerTestUser(t, svc)
	ctx := context.Background()

	_, err := svc.ValidateSession(ctx, "not.a.token")
	assert.True(t, domain.Is(err, "token_invalid"))

	// A refresh token is never a valid bearer credential.
	_, err = svc.ValidateSession(ctx, pair.RefreshToken)
	assert.True(t, domain.Is(err, "token_invalid"))
}

func TestRefreshRotatesBothJTIs(t *testing.T) {
	svc, _, sessions, audits := newTestService(t)
	_, pair := registerTestUser(t, svc)
	ctx := context.Background()

	before := sessions.rows[pair.SessionID]

	next, err := svc.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, pair.SessionID, next.SessionID, "rotation keeps the session row")
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	after := sessions.rows[pair.SessionID]
	assert.NotEqual(t, before.AccessTokenJTI, after.AccessTokenJTI)
	assert.NotEqual(t, before.RefreshTokenJTI, after.RefreshTokenJTI)

	// Old pair stops being routable the instant the rotation commits.
	_, err = svc.ValidateSession(ctx, pair.AccessToken)
	assert.True(t, domain.Is(err, "session_revoked"))
	_, err = svc.RefreshToken(ctx, pair.RefreshToken)
	assert.True(t, domain.Is(err, "session_revoked"))

	// New pair works.
	_, err = svc.ValidateSession(ctx, next.AccessToken)
	assert.NoError(t, err)

	assert.Contains(t, audits.events(), domain.AuditTokenRefreshed)
}

func TestRefreshRejectsAccessTokenAndRevokedSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, pair := registerTestUser(t, svc)
	ctx := context.Background()

	_, err := svc.RefreshToken(ctx, pair.AccessToken)
	assert.True(t, domain.Is(err, "token_invalid"), "an access token must not refresh")

	revoked, err := svc.RevokeToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = svc.RefreshToken(ctx, pair.RefreshToken)
	assert.True(t, domain.Is(err, "session_revoked"), "revocation covers both halves of the pair")
}

func TestRevokeTokenWorksOnExpiredSignature(t *testing.T) {
	// Revocation decodes without verification, so a token service with
	// already-expired TTLs still yields a usable JTI.
	expired, err := security.NewTokenService(testSecret, "pantryd-test", -time.Minute, -time.Minute, -time.Minute)
	require.NoError(t, err)

	users := newFakeUsers()
	sessions := newFakeSessions()
	svc := NewService(sessions, users, expired, security.NewBcryptHasher(4), &fakeAudit{}, testMirror())

	token, claims, err := expired.IssueAccess("user-1", testEmail)
	require.NoError(t, err)
	_, ok := expired.Validate(token, security.TokenAccess)
	require.False(t, ok, "precondition: token must be expired")

	_, err = sessions.Create(context.Background(), domain.Session{
		UserID:          "user-1",
		AccessTokenJTI:  claims.JTI,
		RefreshTokenJTI: "other-jti",
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, domain.AuditRecord{})
	require.NoError(t, err)

	revoked, err := svc.RevokeToken(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestLogoutTearsDownStorefrontSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ext := &fakeExt{}
	svc.WithExternalSessions(ext)
	_, pair := registerTestUser(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Logout(ctx, pair.AccessToken))

	_, err := svc.ValidateSession(ctx, pair.AccessToken)
	assert.True(t, domain.Is(err, "session_revoked"))
	assert.Equal(t, []string{testEmail}, ext.cleared)
}

func TestRevokeAllSessions(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	res, _ := registerTestUser(t, svc)
	ctx := context.Background()

	// A second concurrent session.
	_, pair2, err := svc.AuthenticateUser(ctx, domain.AuthProviderPassword, Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	n, err := svc.RevokeAllSessions(ctx, res.UserID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = svc.ValidateSession(ctx, pair2.AccessToken)
	assert.True(t, domain.Is(err, "session_revoked"))
}

func TestUpdateProfileInvalidatesArtifactsOnFingerprintChange(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	inv := &fakeInvalidator{}
	svc.WithArtifactCache(inv)
	res, _ := registerTestUser(t, svc)
	ctx := context.Background()

	// Household size is not a fingerprint field; no invalidation.
	err := svc.UpdateProfile(ctx, res.UserID, domain.Profile{
		DietTypes:     []string{"Vegetarian"},
		HouseholdSize: 4,
	})
	require.NoError(t, err)
	assert.Empty(t, inv.users)

	// Allergies are; the user's cached artifacts go stale.
	err = svc.UpdateProfile(ctx, res.UserID, domain.Profile{
		DietTypes: []string{"Vegetarian"},
		Allergies: []string{"Nuts"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{testEmail}, inv.users)
}

func TestUpdateProfileRejectsUnknownDiet(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	res, _ := registerTestUser(t, svc)

	err := svc.UpdateProfile(context.Background(), res.UserID, domain.Profile{DietTypes: []string{"Carnivore"}})
	require.Error(t, err)
	assert.True(t, domain.Is(err, "invalid_profile"))
}
