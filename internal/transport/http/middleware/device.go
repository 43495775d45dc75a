package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/pkg/reqctx"
)

// Device captures client metadata into the request context. Auth flows
// stamp it onto sessions and audit records.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := domain.DeviceInfo{
			IPAddress: clientIP(r),
			Interface: "http",
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(reqctx.WithDevice(r.Context(), d)))
	})
}

// clientIP prefers the first X-Forwarded-For hop; deployments terminate
// TLS behind a single trusted proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
