package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pantrylab/pantryd/internal/domain"
)

// TokenKind discriminates the three disjoint token families. A token of
// one kind never validates as another.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenReset   TokenKind = "reset"
)

// Claims is the decoded token envelope handed to callers.
type Claims struct {
	UserID    string
	Email     string
	JTI       string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	Kind  string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256-signed tokens. The signing
// secret comes from configuration and has no default.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
}

func NewTokenService(secret, issuer string, accessTTL, refreshTTL, resetTTL time.Duration) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token signing secret must be at least 32 bytes")
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
	}, nil
}

func (s *TokenService) IssueAccess(userID, email string) (string, Claims, error) {
	return s.issue(userID, email, TokenAccess, s.accessTTL)
}

func (s *TokenService) IssueRefresh(userID, email string) (string, Claims, error) {
	return s.issue(userID, email, TokenRefresh, s.refreshTTL)
}

func (s *TokenService) IssueReset(userID, email string) (string, Claims, error) {
	return s.issue(userID, email, TokenReset, s.resetTTL)
}

func (s *TokenService) issue(userID, email string, kind TokenKind, ttl time.Duration) (string, Claims, error) {
	jti, err := newJTI()
	if err != nil {
		return "", Claims{}, domain.ErrRandomFailed(err)
	}

	now := time.Now()
	exp := now.Add(ttl)
	claims := tokenClaims{
		Email: email,
		Kind:  string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, domain.ErrTokenSignFailed(err)
	}

	return signed, Claims{
		UserID:    userID,
		Email:     email,
		JTI:       jti,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Validate verifies signature, kind and expiry. It deliberately collapses
// every failure into ok=false: callers must not be able to distinguish a
// forged token from an expired one.
func (s *TokenService) Validate(token string, kind TokenKind) (Claims, bool) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		// prevent alg confusion
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return Claims{}, false
	}
	if claims.Kind != string(kind) {
		return Claims{}, false
	}
	if claims.ExpiresAt == nil || !time.Now().Before(claims.ExpiresAt.Time) {
		return Claims{}, false
	}

	return fromTokenClaims(claims), true
}

// DecodeUnchecked extracts claims without verifying the signature.
// Revocation paths use it to recover the JTI from possibly-expired
// tokens; it must never gate authorization.
func (s *TokenService) DecodeUnchecked(token string) (Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &tokenClaims{})
	if err != nil {
		return Claims{}, domain.ErrTokenInvalid()
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return Claims{}, domain.ErrTokenInvalid()
	}
	return fromTokenClaims(claims), nil
}

func fromTokenClaims(c *tokenClaims) Claims {
	out := Claims{
		UserID: c.Subject,
		Email:  c.Email,
		JTI:    c.ID,
		Kind:   TokenKind(c.Kind),
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

// newJTI returns 128 bits of randomness as hex.
func newJTI() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
