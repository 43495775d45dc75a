package http_handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIssuesTokens(t *testing.T) {
	hx := newHarness(t)

	out := hx.register(t)
	assert.NotEmpty(t, out.UserID)
	assert.Equal(t, testEmail, out.Email)
	assert.NotEmpty(t, out.Tokens.AccessToken)
	assert.NotEmpty(t, out.Tokens.RefreshToken)
	assert.NotEmpty(t, out.Tokens.SessionID)
	require.NotNil(t, out.PasswordStrength)
	assert.GreaterOrEqual(t, *out.PasswordStrength, 3)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	hx := newHarness(t)

	cases := []struct {
		name string
		body map[string]any
		code string
	}{
		{"missing email", map[string]any{"password": testPassword}, "missing_field"},
		{"malformed email", map[string]any{"email": "not-an-email", "password": testPassword}, "invalid_field"},
		{"missing password", map[string]any{"email": testEmail}, "missing_field"},
		{"weak password", map[string]any{"email": testEmail, "password": "short"}, "weak_password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := hx.do(t, http.MethodPost, "/api/v1/auth/register", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tc.code, errCode(t, rr))
		})
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	hx := newHarness(t)
	hx.register(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "email_already_exists", errCode(t, rr))
}

func TestLoginRoundTrip(t *testing.T) {
	hx := newHarness(t)
	hx.register(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rr.Code, "body=%s", rr.Body.String())

	var out authPayload
	data(t, rr, &out)
	assert.NotEmpty(t, out.Tokens.AccessToken)
}

func TestLoginFailuresDoNotEnumerate(t *testing.T) {
	hx := newHarness(t)
	hx.register(t)

	// Wrong password and unknown account answer identically.
	for _, body := range []map[string]any{
		{"email": testEmail, "password": "Wrong!password1"},
		{"email": "nobody@example.com", "password": testPassword},
	} {
		rr := hx.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "invalid_credentials", errCode(t, rr))
	}
}

func TestLoginLockoutSurfacesAs403(t *testing.T) {
	hx := newHarness(t)
	hx.register(t)

	for i := 0; i < 3; i++ {
		hx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email": testEmail, "password": "Wrong!password1",
		})
	}
	rr := hx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": testEmail, "password": testPassword,
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "account_locked", errCode(t, rr))
}

func TestRefreshRotatesPair(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": reg.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rr.Code, "body=%s", rr.Body.String())

	var fresh tokensPayload
	data(t, rr, &fresh)
	assert.Equal(t, reg.Tokens.SessionID, fresh.SessionID, "rotation keeps the session row")
	assert.NotEqual(t, reg.Tokens.RefreshToken, fresh.RefreshToken)

	// The superseded refresh token is dead.
	rr = hx.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": reg.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": reg.Tokens.AccessToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "token_invalid", errCode(t, rr))
}

func TestMeRequiresValidBearer(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	rr := hx.do(t, http.MethodGet, "/api/v1/auth/me", reg.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, "body=%s", rr.Body.String())

	var me struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		HasPassword bool   `json:"has_password"`
	}
	data(t, rr, &me)
	assert.Equal(t, reg.UserID, me.ID)
	assert.Equal(t, testEmail, me.Email)
	assert.True(t, me.HasPassword)

	rr = hx.do(t, http.MethodGet, "/api/v1/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "token_invalid", rr.Header().Get("X-Error-Code"))
}

func TestLogoutKillsSession(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/logout", reg.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rr.Code, "body=%s", rr.Body.String())

	rr = hx.do(t, http.MethodGet, "/api/v1/auth/me", reg.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "session_revoked", errCode(t, rr))
}

func TestRevokeEndpointAcceptsEitherToken(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/revoke", "", map[string]any{
		"token": reg.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var out struct {
		Revoked bool `json:"revoked"`
	}
	data(t, rr, &out)
	assert.True(t, out.Revoked)

	rr = hx.do(t, http.MethodGet, "/api/v1/auth/me", reg.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRevokeAllCountsSessions(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)
	hx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": testEmail, "password": testPassword,
	})

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/revoke-all", reg.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var out struct {
		Revoked int64 `json:"revoked_sessions"`
	}
	data(t, rr, &out)
	assert.Equal(t, int64(2), out.Revoked)
}

func TestPasswordResetRequestIsNonEnumerating(t *testing.T) {
	hx := newHarness(t)
	hx.register(t)

	for _, email := range []string{testEmail, "nobody@example.com"} {
		rr := hx.do(t, http.MethodPost, "/api/v1/auth/password-reset/request", "", map[string]any{
			"email": email,
		})
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestPasswordResetCompleteFlow(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	hx.do(t, http.MethodPost, "/api/v1/auth/password-reset/request", "", map[string]any{
		"email": testEmail,
	})

	// The reset token is delivered out of band; fish it from the store.
	u, err := hx.users.GetByID(t.Context(), reg.UserID)
	require.NoError(t, err)
	require.NotEmpty(t, u.Security.PasswordResetToken)

	const newPassword = "An0ther!passphrase"
	rr := hx.do(t, http.MethodPost, "/api/v1/auth/password-reset/complete", "", map[string]any{
		"token":        u.Security.PasswordResetToken,
		"new_password": newPassword,
	})
	require.Equal(t, http.StatusNoContent, rr.Code, "body=%s", rr.Body.String())

	// Old sessions are gone, the new password works.
	rr = hx.do(t, http.MethodGet, "/api/v1/auth/me", reg.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = hx.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": testEmail, "password": newPassword,
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUpdateProfileValidatesOptions(t *testing.T) {
	hx := newHarness(t)
	reg := hx.register(t)

	rr := hx.do(t, http.MethodPut, "/api/v1/auth/me/profile", reg.Tokens.AccessToken, map[string]any{
		"profile": map[string]any{
			"diet_types":     []string{"Vegan"},
			"allergies":      []string{"Nuts"},
			"household_size": 3,
		},
	})
	require.Equal(t, http.StatusNoContent, rr.Code, "body=%s", rr.Body.String())

	rr = hx.do(t, http.MethodGet, "/api/v1/auth/me", reg.Tokens.AccessToken, nil)
	var me struct {
		Profile struct {
			DietTypes []string `json:"diet_types"`
		} `json:"profile"`
	}
	data(t, rr, &me)
	assert.Equal(t, []string{"Vegan"}, me.Profile.DietTypes)

	rr = hx.do(t, http.MethodPut, "/api/v1/auth/me/profile", reg.Tokens.AccessToken, map[string]any{
		"profile": map[string]any{"diet_types": []string{"Carnivore"}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_profile", errCode(t, rr))
}

func TestMalformedJSONIsRejected(t *testing.T) {
	hx := newHarness(t)

	rr := hx.do(t, http.MethodPost, "/api/v1/auth/login", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_json", errCode(t, rr))
}
