package mongodb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pantrylab/pantryd/internal/domain"
)

type fakeClient struct {
	mu          sync.Mutex
	pingErr     error
	pings       int
	disconnects int
}

func (f *fakeClient) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeClient) StartSession(opts ...*options.SessionOptions) (mongo.Session, error) {
	return nil, errors.New("sessions not supported by fake")
}

func (f *fakeClient) Database(name string, opts ...*options.DatabaseOptions) *mongo.Database {
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func newTestManager(c *fakeClient, factoryErr error, interval time.Duration) (*Manager, *int32) {
	var calls int32
	factory := func(ctx context.Context) (Client, error) {
		atomic.AddInt32(&calls, 1)
		if factoryErr != nil {
			return nil, factoryErr
		}
		return c, nil
	}
	m := NewManager(ManagerConfig{
		URI:            "mongodb://unused:27017",
		Database:       "pantry_test",
		HealthInterval: interval,
	}, factory)
	return m, &calls
}

func TestManager_EnsureConnected_Succeeds(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	m, calls := newTestManager(c, nil, time.Hour)
	defer m.Disconnect(context.Background())

	if err := m.EnsureConnected(context.Background(), 3); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if got := m.Status(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	// idempotent: a second ensure must not dial again
	if err := m.EnsureConnected(context.Background(), 3); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("factory called %d times, want 1", n)
	}

	mt := m.Metrics()
	if mt.Attempts != 1 || mt.Failures != 0 {
		t.Fatalf("metrics = %+v, want 1 attempt, 0 failures", mt)
	}
	if mt.LastSuccessTime.IsZero() {
		t.Fatalf("last success time not recorded")
	}
}

func TestManager_EnsureConnected_FailsWithoutRetry(t *testing.T) {
	t.Parallel()
	dialErr := errors.New("dial refused")
	m, calls := newTestManager(nil, dialErr, time.Hour)

	err := m.EnsureConnected(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected connect error")
	}
	if !domain.Is(err, "connection_failed") {
		t.Fatalf("error = %v, want connection_failed", err)
	}
	if !errors.Is(err, dialErr) {
		t.Fatalf("underlying error not preserved: %v", err)
	}
	if got := m.Status(); got != StateError {
		t.Fatalf("state = %v, want error", got)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("factory called %d times, want 1", n)
	}

	mt := m.Metrics()
	if mt.Attempts != 1 || mt.Failures != 1 || mt.LastError == "" {
		t.Fatalf("metrics = %+v, want 1 failed attempt with last error", mt)
	}
}

func TestManager_EnsureConnected_BackoffStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	m, calls := newTestManager(nil, errors.New("down"), time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.EnsureConnected(ctx, 5)
	if err == nil {
		t.Fatalf("expected error")
	}
	// first backoff is 1s; the 50ms context must cut it short
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("ensure took %v, context cancel did not cut the backoff", elapsed)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("factory called %d times before cancel, want 1", n)
	}
}

func TestManager_ValidationPingFailure_ClosesClient(t *testing.T) {
	t.Parallel()
	c := &fakeClient{pingErr: errors.New("ping lost")}
	m, _ := newTestManager(c, nil, time.Hour)

	err := m.EnsureConnected(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected error from validation ping")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnects != 1 {
		t.Fatalf("client closed %d times after failed validation, want 1", c.disconnects)
	}
}

func TestManager_TryAcquire(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	m, _ := newTestManager(c, nil, time.Hour)
	defer m.Disconnect(context.Background())

	if _, ok := m.TryAcquire(); ok {
		t.Fatalf("TryAcquire succeeded on a disconnected manager")
	}
	if err := m.EnsureConnected(context.Background(), 1); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	client, ok := m.TryAcquire()
	if !ok || client == nil {
		t.Fatalf("TryAcquire failed on a connected manager")
	}
}

func TestManager_AcquireClient_ConnectsOnDemand(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	m, calls := newTestManager(c, nil, time.Hour)
	defer m.Disconnect(context.Background())

	client, err := m.AcquireClient(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if client == nil {
		t.Fatalf("acquire returned nil client")
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("factory called %d times, want 1", n)
	}
}

func TestManager_Disconnect_Idempotent(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	m, _ := newTestManager(c, nil, time.Hour)

	if err := m.EnsureConnected(context.Background(), 1); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("second disconnect failed: %v", err)
	}
	if got := m.Status(); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
	c.mu.Lock()
	disconnects := c.disconnects
	c.mu.Unlock()
	if disconnects != 1 {
		t.Fatalf("client closed %d times, want 1", disconnects)
	}

	// a shut-down manager must refuse to reconnect
	if err := m.EnsureConnected(context.Background(), 1); err == nil {
		t.Fatalf("ensure succeeded on a shut-down manager")
	}
}

func TestManager_Disconnect_WakesSleepingWorker(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	m, _ := newTestManager(c, nil, time.Hour) // worker would sleep for an hour

	if err := m.EnsureConnected(context.Background(), 1); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	start := time.Now()
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("disconnect took %v, worker did not wake on shutdown", elapsed)
	}
}

func TestManager_HealthWorker_DemotesOnPingFailure(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	m, calls := newTestManager(c, nil, 20*time.Millisecond)
	defer m.Disconnect(context.Background())

	if err := m.EnsureConnected(context.Background(), 1); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	c.setPingErr(errors.New("heartbeat lost"))

	deadline := time.Now().Add(2 * time.Second)
	for m.Status() != StateError {
		if time.Now().After(deadline) {
			t.Fatalf("health worker never demoted the state, status = %v", m.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// recovery: the next ensure dials a fresh client
	c.setPingErr(nil)
	if err := m.EnsureConnected(context.Background(), 1); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if got := m.Status(); got != StateConnected {
		t.Fatalf("state = %v, want connected after recovery", got)
	}
	if n := atomic.LoadInt32(calls); n != 2 {
		t.Fatalf("factory called %d times, want 2 (initial + recovery)", n)
	}
}

func TestConnState_String(t *testing.T) {
	t.Parallel()
	cases := map[ConnState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateError:        "error",
		ConnState(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("ConnState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
