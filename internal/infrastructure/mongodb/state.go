package mongodb

import "time"

// ConnState is the connection manager's lifecycle state. Transitions:
// Disconnected -> Connecting -> Connected; any state may fall to Error;
// explicit shutdown moves Connected/Error back to Disconnected.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionMetrics is an in-process snapshot of connect history.
type ConnectionMetrics struct {
	Attempts        int64
	Failures        int64
	ConnectTime     time.Duration
	LastError       string
	LastSuccessTime time.Time
	State           ConnState
}
