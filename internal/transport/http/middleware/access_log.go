package middleware

import (
	"net/http"
	"time"

	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// AccessLog emits one structured line per request after it completes.
func AccessLog(next http.Handler) http.Handler {
	log := logger.Component("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		evt := log.Info()
		if wrapped.status >= http.StatusInternalServerError {
			evt = log.Error()
		} else if wrapped.status >= http.StatusBadRequest {
			evt = log.Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Str("request_id", reqctx.RequestID(r.Context())).
			Str("remote", clientIP(r)).
			Msg("request")
	})
}
