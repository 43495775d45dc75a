package http_handlers

import (
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/pantrylab/pantryd/internal/infrastructure/mongodb"
	"github.com/pantrylab/pantryd/internal/transport/http/dto"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

// BreakerStater is the slice of the camera client the health endpoint
// reads: current breaker state and counts.
type BreakerStater interface {
	BreakerState() (string, gobreaker.Counts)
}

type HealthHandler struct {
	mongo  *mongodb.Manager
	camera BreakerStater
}

func NewHealthHandler(mongo *mongodb.Manager, camera BreakerStater) *HealthHandler {
	return &HealthHandler{mongo: mongo, camera: camera}
}

// Healthz reports the connection manager's state and the camera circuit
// breaker. The endpoint answers 200 as long as the process serves; a
// degraded database shows up in the payload, not the status code, so
// orchestrators don't restart a process that is reconnecting on its own.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	data := dto.HealthData{Status: "ok", Database: "unconfigured"}

	if h.mongo != nil {
		state := h.mongo.Status()
		data.Database = state.String()
		if state != mongodb.StateConnected {
			data.Status = "degraded"
		}
	}

	if h.camera != nil {
		state, counts := h.camera.BreakerState()
		data.Camera = &dto.BreakerView{
			State:    state,
			Requests: counts.Requests,
			Failures: counts.ConsecutiveFailures,
		}
	}

	response.OK(w, data)
}
