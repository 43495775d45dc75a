package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/metrics"
)

const (
	defaultMaxRetries  = 3
	connectBackoffBase = 1 * time.Second
	workerJoinTimeout  = 2 * time.Second
)

var errManagerClosed = errors.New("connection manager is shut down")

// Client is the slice of the driver handle the manager owns. *mongo.Client
// satisfies it; tests substitute a stub.
type Client interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	StartSession(opts ...*options.SessionOptions) (mongo.Session, error)
	Database(name string, opts ...*options.DatabaseOptions) *mongo.Database
	Disconnect(ctx context.Context) error
}

// ClientFactory produces a connected client. The manager validates the
// result with a ping before exposing it.
type ClientFactory func(ctx context.Context) (Client, error)

type ManagerConfig struct {
	URI                    string
	Database               string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
	HealthInterval         time.Duration
}

// DefaultFactory dials the document store with the config's timeouts. TLS
// and credentials come from the URI; certificate validation uses the system
// trust store.
func DefaultFactory(cfg ManagerConfig) ClientFactory {
	return func(ctx context.Context) (Client, error) {
		opts := options.Client().
			ApplyURI(cfg.URI).
			SetConnectTimeout(cfg.ConnectTimeout).
			SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
			SetSocketTimeout(cfg.SocketTimeout).
			SetRetryWrites(true)
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		client, err := mongo.Connect(dialCtx, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Manager is the process-wide connection state machine for the document
// store. Every state read and transition happens under one mutex; callers
// that need "ensure then use" get both inside a single critical section
// (AcquireClient), so there is no window where the state can change between
// the check and the use.
type Manager struct {
	cfg     ManagerConfig
	factory ClientFactory
	log     zerolog.Logger

	mu     sync.Mutex
	state  ConnState
	client Client
	closed bool

	attempts    int64
	failures    int64
	connectTime time.Duration
	lastErr     error
	lastSuccess time.Time

	healthOnce    sync.Once
	healthStarted bool
	shutdown      chan struct{}
	stopOnce      sync.Once
	workerDone    chan struct{}
}

func NewManager(cfg ManagerConfig, factory ClientFactory) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = 10 * time.Second
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 30 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if factory == nil {
		factory = DefaultFactory(cfg)
	}
	return &Manager{
		cfg:        cfg,
		factory:    factory,
		log:        logger.Component("mongodb"),
		shutdown:   make(chan struct{}),
		workerDone: make(chan struct{}),
	}
}

// EnsureConnected is idempotent: a Connected manager returns immediately.
// Otherwise it runs up to maxRetries connect attempts (factory + validation
// ping) with exponential backoff, holding the manager lock throughout so
// concurrent callers never race connect attempts.
func (m *Manager) EnsureConnected(ctx context.Context, maxRetries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, maxRetries)
}

func (m *Manager) ensureLocked(ctx context.Context, maxRetries int) error {
	if m.closed {
		return domain.ErrConnectionFailed(errManagerClosed)
	}
	if m.state == StateConnected {
		return nil
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	// Reconnecting after an Error leaves a dead client behind; close it
	// before dialing again.
	if m.client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, time.Second)
		_ = m.client.Disconnect(closeCtx)
		cancel()
		m.client = nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitBackoff(ctx, attempt-1); err != nil {
				return domain.ErrConnectionFailed(err)
			}
		}

		m.setStateLocked(StateConnecting)
		m.attempts++
		metrics.RecordConnectAttempt()

		start := time.Now()
		client, err := m.connectOnce(ctx)
		elapsed := time.Since(start)
		m.connectTime += elapsed

		if err != nil {
			lastErr = err
			m.lastErr = err
			m.failures++
			m.setStateLocked(StateError)
			metrics.RecordConnectFailure()
			m.log.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_retries", maxRetries).
				Msg("connect attempt failed")
			continue
		}

		m.client = client
		m.lastSuccess = time.Now()
		m.setStateLocked(StateConnected)
		metrics.SetDependencyHealth("mongodb", true)
		m.log.Info().Dur("connect_time", elapsed).Msg("connected to document store")

		m.healthOnce.Do(func() {
			m.healthStarted = true
			go m.healthLoop()
		})
		return nil
	}
	return domain.ErrConnectionFailed(lastErr)
}

// connectOnce invokes the factory and validates the client with a round-trip
// before handing it over.
func (m *Manager) connectOnce(ctx context.Context) (Client, error) {
	client, err := m.factory(ctx)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ServerSelectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// waitBackoff sleeps 1s * 2^attempt. It runs with the manager lock held;
// shutdown and context cancellation cut the sleep short.
func (m *Manager) waitBackoff(ctx context.Context, attempt int) error {
	delay := connectBackoffBase << uint(attempt)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return errManagerClosed
	case <-t.C:
		return nil
	}
}

// AcquireClient returns the live client, connecting first if needed. The
// ensure and the handle read share one lock hold.
func (m *Manager) AcquireClient(ctx context.Context) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLocked(ctx, defaultMaxRetries); err != nil {
		return nil, err
	}
	return m.client, nil
}

// TryAcquire returns the client only if the manager is currently Connected.
// It never dials and never blocks on I/O.
func (m *Manager) TryAcquire() (Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.client == nil {
		return nil, false
	}
	return m.client, true
}

// Database resolves the configured database handle, connecting if needed.
func (m *Manager) Database(ctx context.Context) (*mongo.Database, error) {
	client, err := m.AcquireClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(m.cfg.Database), nil
}

// Disconnect signals the health worker, waits for it with a bound, closes
// the client and parks the manager in Disconnected. Safe to call multiple
// times and from concurrent goroutines.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.shutdown) })

	m.mu.Lock()
	started := m.healthStarted
	m.mu.Unlock()

	if started {
		select {
		case <-m.workerDone:
		case <-time.After(workerJoinTimeout):
			m.log.Warn().Msg("health worker did not exit before deadline")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	if m.client != nil {
		err = m.client.Disconnect(ctx)
		m.client = nil
	}
	m.setStateLocked(StateDisconnected)
	metrics.SetDependencyHealth("mongodb", false)
	m.log.Info().Msg("disconnected from document store")
	return err
}

func (m *Manager) Status() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Metrics() ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := ConnectionMetrics{
		Attempts:        m.attempts,
		Failures:        m.failures,
		ConnectTime:     m.connectTime,
		LastSuccessTime: m.lastSuccess,
		State:           m.state,
	}
	if m.lastErr != nil {
		cm.LastError = m.lastErr.Error()
	}
	return cm
}

func (m *Manager) setStateLocked(s ConnState) {
	if m.state == s {
		return
	}
	m.log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("connection state changed")
	m.state = s
	metrics.SetConnectionState(int(s))
}

// healthLoop pings the server every HealthInterval. The shutdown channel is
// level-triggered: it is checked before the sleep, wakes the sleep, and is
// checked again after, so Disconnect never waits a full interval.
func (m *Manager) healthLoop() {
	defer close(m.workerDone)
	t := time.NewTimer(m.cfg.HealthInterval)
	defer t.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		default:
		}
		select {
		case <-m.shutdown:
			return
		case <-t.C:
		}
		select {
		case <-m.shutdown:
			return
		default:
		}
		m.healthCheck()
		t.Reset(m.cfg.HealthInterval)
	}
}

// healthCheck pings under the manager lock. A failed ping demotes the state
// to Error; the next EnsureConnected recovers.
func (m *Manager) healthCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ServerSelectionTimeout)
	defer cancel()
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		m.lastErr = err
		m.setStateLocked(StateError)
		metrics.RecordHealthCheckFailure()
		metrics.SetDependencyHealth("mongodb", false)
		m.log.Warn().Err(err).Msg("health check ping failed")
		return
	}
	m.lastSuccess = time.Now()
	metrics.SetDependencyHealth("mongodb", true)
}
