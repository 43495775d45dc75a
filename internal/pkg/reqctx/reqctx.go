package reqctx

import (
	"context"

	"github.com/pantrylab/pantryd/internal/domain"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	deviceKey    contextKey = "device_info"
)

// WithRequestID injects the request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request id
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithDevice injects client metadata captured at the transport edge.
// Auth flows read it when stamping sessions and audit records.
func WithDevice(ctx context.Context, d domain.DeviceInfo) context.Context {
	return context.WithValue(ctx, deviceKey, d)
}

// Device extracts client metadata; zero value when absent.
func Device(ctx context.Context) domain.DeviceInfo {
	if ctx == nil {
		return domain.DeviceInfo{}
	}
	if d, ok := ctx.Value(deviceKey).(domain.DeviceInfo); ok {
		return d
	}
	return domain.DeviceInfo{}
}
