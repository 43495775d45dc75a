package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

const HeaderXRequestID = "X-Request-Id"

// RequestID stamps every request with an id, honoring one supplied by
// the caller. The id is echoed in the response header and flows into
// error payloads and logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(HeaderXRequestID, reqID)

		ctx := reqctx.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
