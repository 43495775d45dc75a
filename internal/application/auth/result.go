package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/pantrylab/pantryd/internal/domain"
)

// ResultStatus is the tagged variant discriminator of an authentication
// outcome.
type ResultStatus int

const (
	StatusFailure ResultStatus = iota
	StatusSuccess
	StatusRequiresVerification
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRequiresVerification:
		return "requires_verification"
	default:
		return "failure"
	}
}

// Result is a provider's authentication or registration outcome. Failure
// reasons are machine-readable and flow into audit records; the
// non-enumerating client message is the transport layer's job.
type Result struct {
	Status   ResultStatus
	UserID   string
	Email    string
	Reason   string
	Metadata map[string]string
}

func Success(userID, email string) Result {
	return Result{Status: StatusSuccess, UserID: userID, Email: email}
}

func Failure(reason string) Result {
	return Result{Status: StatusFailure, Reason: reason}
}

// Credentials carries what a provider needs to register or authenticate.
// Password providers read Email/Password; OAuth providers read
// Code/State from the callback.
type Credentials struct {
	Email    string
	Password string
	Code     string
	State    string
}

// TokenPair is an issued access/refresh pair. It is only returned after
// the backing session row is durably written.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// Provider is the pluggable credential backend: one per authentication
// scheme, registered into the service at construction.
type Provider interface {
	Name() string
	Register(ctx context.Context, creds Credentials, profile domain.Profile) (Result, error)
	Authenticate(ctx context.Context, creds Credentials) (Result, error)
	SupportsPasswordReset() bool
	SupportsEmailVerification() bool
}

// PKCESession binds one OAuth authorization flow to a per-flow secret
// verifier. Challenge is base64url(SHA-256(verifier)) without padding.
type PKCESession struct {
	Verifier  string
	Challenge string
	Method    string // always S256
	State     string
	CreatedAt time.Time
}

// NewPKCESession generates a fresh verifier (43 URL-safe chars from 32
// random bytes), its S256 challenge and a 128-bit random state.
func NewPKCESession() (PKCESession, error) {
	var vb [32]byte
	if _, err := rand.Read(vb[:]); err != nil {
		return PKCESession{}, domain.ErrRandomFailed(err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(vb[:])

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	var sb [16]byte
	if _, err := rand.Read(sb[:]); err != nil {
		return PKCESession{}, domain.ErrRandomFailed(err)
	}

	return PKCESession{
		Verifier:  verifier,
		Challenge: challenge,
		Method:    "S256",
		State:     hex.EncodeToString(sb[:]),
		CreatedAt: time.Now().UTC(),
	}, nil
}
