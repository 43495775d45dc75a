package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

// SessionValidator is the slice of the auth service the middleware
// needs: turn a bearer token into an authorized session.
type SessionValidator interface {
	ValidateSession(ctx context.Context, accessToken string) (domain.SessionInfo, error)
}

type sessionKey struct{}

// SessionFrom returns the authenticated session placed by Auth. The
// second return is false on routes that skipped the middleware.
func SessionFrom(ctx context.Context) (domain.SessionInfo, bool) {
	info, ok := ctx.Value(sessionKey{}).(domain.SessionInfo)
	return info, ok
}

// Auth verifies Authorization: Bearer <access_token> against the session
// store and injects the session identity into the request context.
func Auth(validator SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := BearerToken(r)
			if err != nil {
				response.WriteError(w, r, err)
				return
			}

			info, err := validator.ValidateSession(r.Context(), raw)
			if err != nil {
				response.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the raw token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", domain.ErrTokenInvalid()
	}

	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", domain.ErrTokenInvalid()
	}

	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", domain.ErrTokenInvalid()
	}
	return raw, nil
}
