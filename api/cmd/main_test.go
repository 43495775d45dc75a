package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/pantrylab/pantryd/internal/bootstrap"
	"github.com/pantrylab/pantryd/internal/config"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/memory"
	"github.com/pantrylab/pantryd/internal/infrastructure/mongodb"
	"github.com/pantrylab/pantryd/internal/infrastructure/storefront/memstore"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

func init() {
	logger.Init("disabled", "json")
}

func testApp(t *testing.T) *bootstrap.App {
	t.Helper()

	cfg := &config.Config{
		Env:                "dev",
		HTTPAddr:           "127.0.0.1:0",
		MongoURI:           "mongodb://localhost:27017",
		MongoDB:            "pantry_test",
		TokenSigningSecret: "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		ResetTokenTTL:      time.Hour,
		BcryptCost:         4,
		MaxLoginAttempts:   5,
		LockoutDuration:    30 * time.Minute,
		EnablePasswordAuth: true,
		CacheDir:           t.TempDir(),
		CacheTTL:           12 * time.Hour,
		SessionTTL:         7 * 24 * time.Hour,
		StorefrontDriver:   "memstore",
		ShutdownTimeout:    time.Second,
	}

	mongoMgr := mongodb.NewManager(mongodb.ManagerConfig{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDB,
	}, func(ctx context.Context) (mongodb.Client, error) {
		return nil, errors.New("no database in unit tests")
	})

	app, err := bootstrap.NewWithDeps(cfg, bootstrap.Deps{
		Mongo:             mongoMgr,
		Publisher:         memory.NewEventRecorder(),
		StorefrontFactory: memstore.NewCatalog(memstore.DefaultProducts()).Factory(),
	})
	if err != nil {
		t.Fatalf("NewWithDeps: %v", err)
	}
	return app
}

func TestRunStopsOnSignal(t *testing.T) {
	app := testApp(t)
	sigCh := make(chan os.Signal, 1)

	done := make(chan int, 1)
	go func() { done <- Run(app, sigCh, logger.Component("test")) }()

	time.Sleep(50 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected exit 0 on signal, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after signal")
	}
}

func TestRunExitsNonZeroWhenMonitorTrips(t *testing.T) {
	app := testApp(t)
	sigCh := make(chan os.Signal, 1)

	done := make(chan int, 1)
	go func() { done <- Run(app, sigCh, logger.Component("test")) }()

	// Three consecutive connection failures through the monitor.
	failing := app.Monitor.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.WriteError(w, r, domain.ErrConnectionFailed(errors.New("store down")))
	}))
	for i := 0; i < 3; i++ {
		failing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	select {
	case code := <-done:
		if code != 1 {
			t.Fatalf("expected exit 1 after trip, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after the monitor tripped")
	}
}
