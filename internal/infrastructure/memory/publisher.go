package memory

import (
	"context"
	"sync"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
)

// EventRecorder stands in for the broker when AMQP is not configured.
// Events are logged and kept in a bounded ring so tests and the dev
// loop can inspect what would have been published.
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.AuditRecord
	limit  int
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{limit: 256}
}

func (r *EventRecorder) PublishAuditEvent(ctx context.Context, rec domain.AuditRecord) error {
	r.mu.Lock()
	r.events = append(r.events, rec)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	r.mu.Unlock()

	lg := logger.Component("events")
	lg.Debug().
		Str("event", rec.EventType).
		Str("user_id", rec.UserID).
		Bool("success", rec.Success).
		Msg("audit event recorded")
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *EventRecorder) Events() []domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditRecord, len(r.events))
	copy(out, r.events)
	return out
}
