package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pantrylab/pantryd/internal/domain"
)

const (
	DefaultExchange = "auth.events"

	publishTimeout = 2 * time.Second
)

// Publisher fans audit records out to a topic exchange. Delivery is
// at-most-once: a record that cannot be published is dropped, the
// caller logs and moves on. The append-only store remains the durable
// record; the broker feed is for downstream consumers only.
type Publisher struct {
	url      string
	exchange string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	p := &Publisher{
		url:      url,
		exchange: DefaultExchange,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetConn()
	return nil
}

// PublishAuditEvent routes a record as audit.<event_type>, e.g.
// audit.login_failure, so consumers can bind to the slices they care
// about.
func (p *Publisher) PublishAuditEvent(ctx context.Context, rec domain.AuditRecord) error {
	return p.publishJSON(ctx, "audit."+rec.EventType, auditEventBody(rec))
}

type auditEvent struct {
	ID            string            `json:"id"`
	EventType     string            `json:"event_type"`
	UserID        string            `json:"user_id,omitempty"`
	Email         string            `json:"email,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

func auditEventBody(rec domain.AuditRecord) auditEvent {
	return auditEvent{
		ID:            rec.ID,
		EventType:     rec.EventType,
		UserID:        rec.UserID,
		Email:         rec.Email,
		Provider:      rec.Provider,
		IPAddress:     rec.IPAddress,
		Success:       rec.Success,
		FailureReason: rec.FailureReason,
		Metadata:      rec.Metadata,
		Timestamp:     rec.Timestamp,
	}
}

// ---- internal ----

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	// Topic exchange, declared idempotently.
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return nil
}

func (p *Publisher) ensureConnected() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return nil
	}
	p.resetConn()
	return p.connect()
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(); err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory: unbound keys are silently dropped
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		p.resetConn()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *Publisher) resetConn() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
