package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pantrylab/pantryd/internal/application/auth"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
)

// googleIssuers is the allow-list for the ID token `iss` claim. Google
// documents both forms.
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleClient implements the outbound half of the Google OAuth 2.0
// authorization-code flow with PKCE. ID tokens are verified locally
// against Google's JWKS; the userinfo endpoint is never trusted for
// identity.
type GoogleClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
	jwks         *jwksCache

	// endpoint overrides for tests
	authURL  string
	tokenURL string
}

func NewGoogleClient(clientID, clientSecret, redirectURI string) *GoogleClient {
	hc := &http.Client{Timeout: 10 * time.Second}
	return &GoogleClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   hc,
		jwks:         newJWKSCache(googleJWKSURL, hc),
		authURL:      googleAuthURL,
		tokenURL:     googleTokenURL,
	}
}

// IsConfigured reports whether client credentials are present. An
// unconfigured client must not be registered as a provider.
func (c *GoogleClient) IsConfigured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

func (c *GoogleClient) Provider() string { return "google" }

// AuthorizationURL builds the consent URL carrying the PKCE challenge
// and the CSRF state. The verifier never leaves the process.
func (c *GoogleClient) AuthorizationURL(s auth.PKCESession) string {
	params := url.Values{
		"client_id":             {c.clientID},
		"redirect_uri":          {c.redirectURI},
		"response_type":         {"code"},
		"scope":                 {"openid email profile"},
		"state":                 {s.State},
		"code_challenge":        {s.Challenge},
		"code_challenge_method": {s.Method},
		"access_type":           {"offline"},
		"prompt":                {"consent"},
	}
	return c.authURL + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Exchange redeems the authorization code at the token endpoint,
// presenting the PKCE verifier that matches the challenge sent on the
// authorization URL.
func (c *GoogleClient) Exchange(ctx context.Context, code, verifier string) (auth.OAuthTokens, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.OAuthTokens{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.OAuthTokens{}, fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return auth.OAuthTokens{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return auth.OAuthTokens{}, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return auth.OAuthTokens{}, fmt.Errorf("parse token response: %w", err)
	}
	if tr.IDToken == "" {
		return auth.OAuthTokens{}, fmt.Errorf("token response carried no id_token")
	}

	return auth.OAuthTokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// VerifyIDToken checks the ID token's RS256 signature against Google's
// published JWKS, then the issuer allow-list, the audience and the
// expiry. Identity is taken from the verified claims only.
func (c *GoogleClient) VerifyIDToken(ctx context.Context, rawIDToken string) (auth.OAuthUserInfo, error) {
	claims := &idTokenClaims{}
	parsed, err := jwt.ParseWithClaims(rawIDToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("id token has no kid header")
		}
		return c.jwks.Key(ctx, kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return auth.OAuthUserInfo{}, fmt.Errorf("id token rejected: %w", err)
	}
	if !parsed.Valid {
		return auth.OAuthUserInfo{}, fmt.Errorf("id token rejected")
	}

	issuerOK := false
	for _, iss := range googleIssuers {
		if claims.Issuer == iss {
			issuerOK = true
			break
		}
	}
	if !issuerOK {
		return auth.OAuthUserInfo{}, fmt.Errorf("id token issuer %q not trusted", claims.Issuer)
	}
	audOK := false
	for _, aud := range claims.Audience {
		if aud == c.clientID {
			audOK = true
			break
		}
	}
	if !audOK {
		return auth.OAuthUserInfo{}, fmt.Errorf("id token audience mismatch")
	}
	if claims.ExpiresAt == nil || !time.Now().Before(claims.ExpiresAt.Time) {
		return auth.OAuthUserInfo{}, fmt.Errorf("id token expired")
	}
	if claims.Subject == "" || claims.Email == "" {
		return auth.OAuthUserInfo{}, fmt.Errorf("id token missing sub or email")
	}

	return auth.OAuthUserInfo{
		Provider:      c.Provider(),
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
		Raw: map[string]any{
			"name":    claims.Name,
			"picture": claims.Picture,
		},
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
