package response

import (
	"net/http"

	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// RequestIDFromContext extracts the request id stamped by the request-id
// middleware; empty when the middleware is not installed.
func RequestIDFromContext(r *http.Request) string {
	return reqctx.RequestID(r.Context())
}
