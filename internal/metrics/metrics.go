package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Connection manager metrics
	mongoConnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mongo_connect_attempts_total",
			Help: "Total number of document store connect attempts",
		},
	)

	mongoConnectFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mongo_connect_failures_total",
			Help: "Total number of failed document store connect attempts",
		},
	)

	mongoConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mongo_connection_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=connected, 3=error)",
		},
	)

	mongoHealthCheckFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mongo_healthcheck_failures_total",
			Help: "Total number of failed background health checks",
		},
	)

	// Transaction runtime metrics
	txnCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txn_commits_total",
			Help: "Total number of committed transactions",
		},
	)

	txnAbortsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txn_aborts_total",
			Help: "Total number of aborted transactions",
		},
	)

	txnRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txn_retries_total",
			Help: "Total number of transaction retries on transient errors",
		},
	)

	// Camera RPC metrics
	cameraRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camera_requests_total",
			Help: "Total number of camera RPC calls",
		},
		[]string{"operation", "outcome"},
	)

	cameraRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camera_request_duration_seconds",
			Help:    "Camera RPC duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"operation"},
	)

	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	// Artifact cache metrics
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_cache_hits_total",
			Help: "Total number of artifact cache hits",
		},
		[]string{"tier"},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_cache_misses_total",
			Help: "Total number of artifact cache misses",
		},
	)

	cacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artifact_cache_invalidations_total",
			Help: "Total number of artifact cache entries invalidated",
		},
	)

	// Auth metrics
	authRegistrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of user registrations",
		},
	)

	authLoginsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of user logins",
		},
	)

	authLoginsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_logins_failed_total",
			Help: "Total number of failed login attempts",
		},
	)

	authTokenRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Total number of token refreshes",
		},
	)

	authSessionsRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Total number of revoked sessions",
		},
	)

	authPasswordResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_password_resets_total",
			Help: "Total number of completed password resets",
		},
	)

	// Ordering pipeline metrics
	orderRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_runs_total",
			Help: "Total number of ordering pipeline runs",
		},
		[]string{"outcome"},
	)

	orderItemRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_item_retries_total",
			Help: "Total number of per-item add retries in the ordering pipeline",
		},
	)

	orderVerificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_verification_duration_seconds",
			Help:    "Cart verification duration in seconds",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10},
		},
	)

	// Dependency health metrics
	dependencyHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dependency_health",
			Help: "Health status of dependencies (1 = healthy, 0 = unhealthy)",
		},
		[]string{"dependency"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordConnectAttempt increments the connect attempt counter
func RecordConnectAttempt() {
	mongoConnectAttempts.Inc()
}

// RecordConnectFailure increments the connect failure counter
func RecordConnectFailure() {
	mongoConnectFailures.Inc()
}

// SetConnectionState publishes the manager state as a gauge
func SetConnectionState(state int) {
	mongoConnectionState.Set(float64(state))
}

// RecordHealthCheckFailure increments the health check failure counter
func RecordHealthCheckFailure() {
	mongoHealthCheckFailures.Inc()
}

// RecordTxnCommit increments the transaction commit counter
func RecordTxnCommit() {
	txnCommitsTotal.Inc()
}

// RecordTxnAbort increments the transaction abort counter
func RecordTxnAbort() {
	txnAbortsTotal.Inc()
}

// RecordTxnRetry increments the transaction retry counter
func RecordTxnRetry() {
	txnRetriesTotal.Inc()
}

// RecordCameraRequest records one camera RPC call
func RecordCameraRequest(operation string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	cameraRequestsTotal.WithLabelValues(operation, outcome).Inc()
	cameraRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCircuitBreakerState publishes a breaker state as a gauge
func SetCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCacheHit increments the cache hit counter for a tier ("memory" or "disk")
func RecordCacheHit(tier string) {
	cacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// RecordCacheInvalidations adds to the invalidation counter
func RecordCacheInvalidations(n int) {
	cacheInvalidationsTotal.Add(float64(n))
}

// RecordRegistration increments registration counter
func RecordRegistration() {
	authRegistrationsTotal.Inc()
}

// RecordLogin increments login counter
func RecordLogin() {
	authLoginsTotal.Inc()
}

// RecordLoginFailed increments failed login counter
func RecordLoginFailed() {
	authLoginsFailed.Inc()
}

// RecordTokenRefresh increments token refresh counter
func RecordTokenRefresh() {
	authTokenRefreshesTotal.Inc()
}

// RecordSessionRevoked increments the revoked session counter
func RecordSessionRevoked() {
	authSessionsRevokedTotal.Inc()
}

// RecordPasswordReset increments password reset counter
func RecordPasswordReset() {
	authPasswordResetsTotal.Inc()
}

// RecordOrderRun records an ordering pipeline run outcome
func RecordOrderRun(outcome string) {
	orderRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordOrderItemRetry increments the per-item retry counter
func RecordOrderItemRetry() {
	orderItemRetriesTotal.Inc()
}

// ObserveVerificationDuration records one cart verification duration
func ObserveVerificationDuration(d time.Duration) {
	orderVerificationDuration.Observe(d.Seconds())
}

// SetDependencyHealth sets the health status of a dependency
func SetDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealth.WithLabelValues(dependency).Set(value)
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
