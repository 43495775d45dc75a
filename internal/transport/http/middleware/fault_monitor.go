package middleware

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

// FaultMonitor watches response error codes for signs the document store
// is gone for good. Three consecutive connection failures trip it; the
// daemon treats a trip as fatal and exits so the supervisor restarts the
// process with a clean connection state. Any other outcome resets the
// streak.
type FaultMonitor struct {
	threshold int
	log       zerolog.Logger

	mu      sync.Mutex
	streak  int
	tripped chan struct{}
	once    sync.Once
}

func NewFaultMonitor(threshold int) *FaultMonitor {
	if threshold <= 0 {
		threshold = 3
	}
	return &FaultMonitor{
		threshold: threshold,
		log:       logger.Component("fault_monitor"),
		tripped:   make(chan struct{}),
	}
}

// Tripped closes when the consecutive-failure threshold is reached.
func (m *FaultMonitor) Tripped() <-chan struct{} { return m.tripped }

// Middleware inspects each response's machine error code.
func (m *FaultMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.observe(wrapped.Header().Get(response.HeaderErrorCode))
	})
}

func (m *FaultMonitor) observe(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if code != "connection_failed" {
		m.streak = 0
		return
	}
	m.streak++
	m.log.Warn().Int("streak", m.streak).Int("threshold", m.threshold).
		Msg("request failed on database connectivity")
	if m.streak >= m.threshold {
		m.once.Do(func() {
			m.log.Error().Msg("consecutive connection failures exceeded threshold")
			close(m.tripped)
		})
	}
}
