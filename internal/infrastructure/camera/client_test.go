package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/memory"
)

// sleepRecorder replaces the client's backoff sleep so retry tests run
// instantly while still seeing the delays that would have been waited.
type sleepRecorder struct {
	mu sync.Mutex
	ds []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ds = append(r.ds, d)
	return nil
}

func (r *sleepRecorder) delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.ds...)
}

type fakeURLStore struct {
	mu     sync.Mutex
	url    string
	getErr error
	setErr error
	sets   int
}

func (s *fakeURLStore) CameraURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.url, nil
}

func (s *fakeURLStore) SetCameraURL(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.url = url
	s.sets++
	return nil
}

func newTestClient(t *testing.T, baseURL string) (*Client, *memory.StatusCache, *sleepRecorder) {
	t.Helper()
	return newTestClientCfg(t, Config{
		BaseURL:          baseURL,
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
	})
}

func newTestClientCfg(t *testing.T, cfg Config) (*Client, *memory.StatusCache, *sleepRecorder) {
	t.Helper()
	if cfg.ImageDir == "" {
		cfg.ImageDir = t.TempDir()
	}
	avail := memory.NewStatusCache(time.Minute)
	c, err := New(cfg, avail, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, avail, rec
}

// dropConnection hijacks the connection and closes it without writing a
// response, which the client sees as a transport failure.
func dropConnection(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("test server does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}
}

func TestNew_Defaults(t *testing.T) {
	c, _, _ := newTestClientCfg(t, Config{BaseURL: "http://cam.local"})

	if c.cfg.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", c.cfg.FailureThreshold)
	}
	if c.cfg.Cooldown != time.Minute {
		t.Errorf("Cooldown = %v, want 1m", c.cfg.Cooldown)
	}
	if state, _ := c.BreakerState(); state != "closed" {
		t.Errorf("initial breaker state = %q, want closed", state)
	}
}

func TestSetBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	urls := &fakeURLStore{}
	avail := memory.NewStatusCache(time.Minute)
	c, err := New(Config{BaseURL: "http://old.local", ImageDir: t.TempDir()}, avail, urls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	avail.Set(ctx, availabilityKey, false)

	if err := c.SetBaseURL(ctx, srv.URL); err != nil {
		t.Fatalf("SetBaseURL: %v", err)
	}
	if got := c.BaseURL(); got != srv.URL {
		t.Errorf("BaseURL = %q, want %q", got, srv.URL)
	}
	if urls.url != srv.URL || urls.sets != 1 {
		t.Errorf("override not persisted: url=%q sets=%d", urls.url, urls.sets)
	}
	if _, known := avail.Get(ctx, availabilityKey); known {
		t.Error("availability cache should be invalidated after a URL change")
	}
}

func TestSetBaseURL_Validation(t *testing.T) {
	c, _, _ := newTestClient(t, "http://cam.local")

	err := c.SetBaseURL(context.Background(), "")
	if !domain.Is(err, "missing_field") {
		t.Errorf("err = %v, want missing_field", err)
	}
}

func TestSetBaseURL_PersistFailureLeavesClientUnchanged(t *testing.T) {
	urls := &fakeURLStore{setErr: context.DeadlineExceeded}
	avail := memory.NewStatusCache(time.Minute)
	c, err := New(Config{BaseURL: "http://old.local", ImageDir: t.TempDir()}, avail, urls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.SetBaseURL(context.Background(), "http://new.local"); err == nil {
		t.Fatal("expected error when the override cannot be persisted")
	}
	if got := c.BaseURL(); got != "http://old.local" {
		t.Errorf("BaseURL = %q, want the old URL kept", got)
	}
}

func TestLoadStoredURL(t *testing.T) {
	urls := &fakeURLStore{url: "http://stored.local"}
	avail := memory.NewStatusCache(time.Minute)
	c, err := New(Config{BaseURL: "http://default.local", ImageDir: t.TempDir()}, avail, urls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.LoadStoredURL(context.Background())
	if got := c.BaseURL(); got != "http://stored.local" {
		t.Errorf("BaseURL = %q, want the stored override", got)
	}
}

func TestLoadStoredURL_KeepsDefaultWhenEmpty(t *testing.T) {
	urls := &fakeURLStore{}
	avail := memory.NewStatusCache(time.Minute)
	c, err := New(Config{BaseURL: "http://default.local", ImageDir: t.TempDir()}, avail, urls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.LoadStoredURL(context.Background())
	if got := c.BaseURL(); got != "http://default.local" {
		t.Errorf("BaseURL = %q, want the configured default", got)
	}

	urls.getErr = context.DeadlineExceeded
	c.LoadStoredURL(context.Background())
	if got := c.BaseURL(); got != "http://default.local" {
		t.Errorf("BaseURL = %q after store error, want the configured default", got)
	}
}

func TestBreakerOpensAfterConsecutiveTransportFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		dropConnection(t)(w, r)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.HealthCheck(ctx); err == nil {
			t.Fatalf("attempt %d: expected transport failure", i)
		}
	}
	if state, _ := c.BreakerState(); state != "open" {
		t.Fatalf("breaker state = %q after 3 failures, want open", state)
	}

	before := hits.Load()
	start := time.Now()
	_, err := c.HealthCheck(ctx)
	elapsed := time.Since(start)

	if !domain.Is(err, "circuit_open") {
		t.Errorf("err = %v, want circuit_open", err)
	}
	if hits.Load() != before {
		t.Error("an open breaker must not let requests through")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("open-breaker rejection took %v, want immediate", elapsed)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			dropConnection(t)(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","components":{"database":"connected","camera":"ok","disk_space_gb":10},"timestamp":"2026-08-24T10:00:00Z"}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.HealthCheck(ctx)
	}
	if state, _ := c.BreakerState(); state != "open" {
		t.Fatalf("breaker state = %q, want open", state)
	}

	failing.Store(false)
	time.Sleep(120 * time.Millisecond) // past the 50ms cooldown

	if _, err := c.HealthCheck(ctx); err != nil {
		t.Fatalf("half-open probe should succeed: %v", err)
	}
	if state, _ := c.BreakerState(); state != "closed" {
		t.Errorf("breaker state = %q after successful probe, want closed", state)
	}
}

func TestRequestHeaders(t *testing.T) {
	type seen struct {
		apiKey    string
		userAgent string
	}
	var (
		mu   sync.Mutex
		reqs []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqs = append(reqs, seen{apiKey: r.Header.Get("X-API-Key"), userAgent: r.Header.Get("User-Agent")})
		mu.Unlock()
		if r.URL.Path == "/health" {
			w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _, _ := newTestClientCfg(t, Config{BaseURL: srv.URL, APIKey: "sekrit"})
	ctx := context.Background()

	if !c.Liveness(ctx) {
		t.Fatal("Liveness should be true")
	}
	if _, err := c.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reqs) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(reqs))
	}
	for i, r := range reqs {
		if r.apiKey != "sekrit" {
			t.Errorf("request %d: X-API-Key = %q, want sekrit", i, r.apiKey)
		}
		if r.userAgent != userAgent {
			t.Errorf("request %d: User-Agent = %q, want %q", i, r.userAgent, userAgent)
		}
	}
}

func TestStatsCounters(t *testing.T) {
	var ok atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ok.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL)
	ctx := context.Background()

	c.HealthCheck(ctx) // 500
	ok.Store(true)
	c.HealthCheck(ctx)
	c.HealthCheck(ctx)

	st := c.Stats()["health"]
	if st.TotalRequests != 3 || st.Successes != 2 || st.Failures != 1 {
		t.Errorf("health stats = %+v, want 3 total / 2 ok / 1 failed", st)
	}
	if _, found := c.Stats()["capture"]; found {
		t.Error("stats should only contain operations that ran")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, time.Second, 2 * time.Second},
		{1, 2 * time.Second, 3 * time.Second},
		{4, 16 * time.Second, 17 * time.Second},
		{5, 30 * time.Second, 31 * time.Second},
		{12, 30 * time.Second, 31 * time.Second},
	}
	for _, tc := range cases {
		for i := 0; i < 25; i++ {
			d := retryDelay(tc.attempt)
			if d < tc.min || d >= tc.max {
				t.Fatalf("retryDelay(%d) = %v, want in [%v, %v)", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}

func TestAttemptTimeout(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 5 * time.Second},
		{5, 13 * time.Second},
		{6, 15 * time.Second},
		{20, 15 * time.Second},
	}
	for _, tc := range cases {
		if got := attemptTimeout(tc.attempt); got != tc.want {
			t.Errorf("attemptTimeout(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
