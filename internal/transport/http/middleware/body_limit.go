package middleware

import (
	"net/http"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

const defaultMaxBodyBytes = 1 << 20 // 1MB

// BodyLimit caps request body size. Oversized declared bodies are
// rejected up front; undeclared ones fail at read time through
// MaxBytesReader.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				response.WriteError(w, r, domain.ErrInvalidField("body", "request body too large"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}
