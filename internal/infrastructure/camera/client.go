// Package camera talks to the kitchen camera service over HTTP. Every
// outbound call runs behind a circuit breaker, and retry loops consult
// a shared availability cache so a dead camera is skipped without
// burning breaker state.
package camera

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/metrics"
)

const (
	availabilityKey = "camera"
	headerAPIKey    = "X-API-Key"
	userAgent       = "pantryd/2.0"

	retryBase    = time.Second
	retryCap     = 30 * time.Second
	probeTimeout = 3 * time.Second
)

// StatusCache is the availability cache consulted before each attempt.
// Satisfied by the Redis and in-memory implementations.
type StatusCache interface {
	Get(ctx context.Context, name string) (up, known bool)
	Set(ctx context.Context, name string, up bool)
	Invalidate(ctx context.Context, name string)
}

// URLStore persists base URL overrides across restarts. Satisfied by
// the system_config repository; nil means overrides are process-local.
type URLStore interface {
	CameraURL(ctx context.Context) (string, error)
	SetCameraURL(ctx context.Context, url string) error
}

type Config struct {
	BaseURL          string
	APIKey           string
	FailureThreshold uint32
	Cooldown         time.Duration
	ImageDir         string
}

// Client is the camera RPC client. Safe for concurrent use; the mutex
// covers the base URL and the breaker instance, which are swapped
// together on reconfiguration.
type Client struct {
	cfg   Config
	http  *http.Client
	avail StatusCache
	urls  URLStore
	log   zerolog.Logger
	sleep func(context.Context, time.Duration) error

	mu      sync.Mutex
	baseURL string
	breaker *gobreaker.CircuitBreaker

	statsMu sync.Mutex
	stats   map[string]*OpStats
}

// OpStats counts one operation's outcomes.
type OpStats struct {
	TotalRequests        int64 `json:"total_requests"`
	Successes            int64 `json:"successes"`
	Failures             int64 `json:"failures"`
	CumulativeDurationMs int64 `json:"cumulative_duration_ms"`
}

func New(cfg Config, avail StatusCache, urls URLStore) (*Client, error) {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = "cache/images"
	}
	if err := os.MkdirAll(cfg.ImageDir, 0o700); err != nil {
		return nil, fmt.Errorf("create image dir %s: %w", cfg.ImageDir, err)
	}

	log := logger.Component("camera")
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		avail:   avail,
		urls:    urls,
		log:     log,
		sleep:   sleepCtx,
		baseURL: cfg.BaseURL,
		stats:   make(map[string]*OpStats),
	}
	c.breaker = c.newBreaker()
	return c, nil
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker {
	log := c.log
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "camera",
		MaxRequests: 1,
		Timeout:     c.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("camera breaker state change")
			metrics.SetCircuitBreakerState(name, int(to))
		},
	})
}

// BaseURL returns the camera endpoint currently in use.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// SetBaseURL points the client at a new camera endpoint and persists
// the override. The breaker is replaced with a fresh instance and the
// availability cache is invalidated: history against the old endpoint
// says nothing about the new one.
func (c *Client) SetBaseURL(ctx context.Context, url string) error {
	if url == "" {
		return domain.ErrMissingField("camera_url")
	}
	if c.urls != nil {
		if err := c.urls.SetCameraURL(ctx, url); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.baseURL = url
	c.breaker = c.newBreaker()
	c.mu.Unlock()

	c.avail.Invalidate(ctx, availabilityKey)
	c.log.Info().Str("url", url).Msg("camera base URL updated")
	return nil
}

// LoadStoredURL adopts a persisted URL override if one exists. Called
// once at startup, after the document store is reachable.
func (c *Client) LoadStoredURL(ctx context.Context) {
	if c.urls == nil {
		return
	}
	url, err := c.urls.CameraURL(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("could not read stored camera URL")
		return
	}
	if url == "" {
		return
	}
	c.mu.Lock()
	c.baseURL = url
	c.mu.Unlock()
	c.log.Info().Str("url", url).Msg("using stored camera URL")
}

// BreakerState reports the current breaker state name and counters for
// the health surface.
func (c *Client) BreakerState() (string, gobreaker.Counts) {
	c.mu.Lock()
	cb := c.breaker
	c.mu.Unlock()
	return cb.State().String(), cb.Counts()
}

// Stats returns a copy of the per-operation counters.
func (c *Client) Stats() map[string]OpStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	out := make(map[string]OpStats, len(c.stats))
	for op, st := range c.stats {
		out[op] = *st
	}
	return out
}

func (c *Client) record(op string, start time.Time, err error) {
	elapsed := time.Since(start)

	c.statsMu.Lock()
	st, ok := c.stats[op]
	if !ok {
		st = &OpStats{}
		c.stats[op] = st
	}
	st.TotalRequests++
	if err != nil {
		st.Failures++
	} else {
		st.Successes++
	}
	st.CumulativeDurationMs += elapsed.Milliseconds()
	c.statsMu.Unlock()

	metrics.RecordCameraRequest(op, err == nil, elapsed)
}

// call performs one HTTP GET through the breaker. Transport failures
// advance the breaker; HTTP status handling is the operation's job.
// The caller owns the response body.
func (c *Client) call(ctx context.Context, path string, timeout time.Duration) (*http.Response, error) {
	c.mu.Lock()
	base := c.baseURL
	cb := c.breaker
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build camera request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set(headerAPIKey, c.cfg.APIKey)
	}

	out, err := cb.Execute(func() (any, error) {
		return c.http.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrCircuitOpen("camera")
		}
		return nil, err
	}
	return out.(*http.Response), nil
}

// attemptTimeout grows with the attempt number: 3s, 5s, 7s... capped
// at 15s. Later attempts get more room because quick failures already
// ruled out the fast paths.
func attemptTimeout(attempt int) time.Duration {
	secs := 3 + 2*attempt
	if secs > 15 {
		secs = 15
	}
	return time.Duration(secs) * time.Second
}

// retryDelay is exponential backoff capped at 30s plus up to 1s of
// jitter so synchronized clients spread out.
func retryDelay(attempt int) time.Duration {
	d := retryCap
	if attempt < 5 {
		d = retryBase << uint(attempt)
	}
	if d > retryCap {
		d = retryCap
	}
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}

// sleepCtx waits for the delay or the context, whichever ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
