package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/bootstrap"
	"github.com/pantrylab/pantryd/internal/config"
	"github.com/pantrylab/pantryd/internal/infrastructure/mongodb"
	"github.com/pantrylab/pantryd/internal/logger"
)

const (
	sweepInterval  = time.Hour
	connectRetries = 3
)

// Run drives an assembled app until a shutdown signal, a server crash
// or a fault-monitor trip. The exit code distinguishes clean shutdown
// (0) from failure (1) so an orchestrator can restart the process.
func Run(app *bootstrap.App, sigCh <-chan os.Signal, lg zerolog.Logger) int {
	defer app.Cleanup()

	bg, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect in the background: the server starts serving immediately
	// and reports "degraded" until the store is reachable. Index setup
	// rides on the first successful connect.
	go func() {
		ctx, cancel := context.WithTimeout(bg, time.Minute)
		defer cancel()
		if err := app.Mongo.EnsureConnected(ctx, connectRetries); err != nil {
			lg.Warn().Err(err).Msg("document store unreachable at startup, serving degraded")
			return
		}
		db, err := app.Mongo.Database(ctx)
		if err == nil {
			err = mongodb.EnsureIndexes(ctx, db)
		}
		if err != nil {
			lg.Warn().Err(err).Msg("index setup failed")
			return
		}
		lg.Info().Msg("document store connected, indexes ensured")
	}()

	go sweepLoop(bg, "external sessions", app.Sessions.CleanupExpired, lg)
	go sweepLoop(bg, "artifact cache", app.Artifacts.CleanupExpired, lg)

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", app.Server.Addr).Msg("listening")
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := 0
	select {
	case sig := <-sigCh:
		lg.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	case err := <-errCh:
		lg.Error().Err(err).Msg("server crashed")
		return 1

	case <-app.Monitor.Tripped():
		// Repeated connection failures across requests: the store is
		// gone and retries inside the manager are not bringing it back.
		// Exit non-zero and let the supervisor restart us clean.
		lg.Error().Msg("consecutive connection failures, exiting for restart")
		code = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
	defer cancel()
	if err := app.Server.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("graceful shutdown failed")
		_ = app.Server.Close()
	}

	lg.Info().Msg("shutdown complete")
	return code
}

// sweepLoop runs a cleanup pass on a fixed interval until ctx ends.
func sweepLoop(ctx context.Context, name string, sweep func() (int, error), lg zerolog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep()
			if err != nil {
				lg.Warn().Err(err).Str("sweep", name).Msg("sweep failed")
				continue
			}
			if n > 0 {
				lg.Info().Str("sweep", name).Int("removed", n).Msg("sweep complete")
			}
		}
	}
}

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", "json")
		lg := logger.Component("main")
		lg.Error().Err(err).Msg("configuration invalid")
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	lg := logger.Component("main")

	app, err := bootstrap.New(cfg)
	if err != nil {
		lg.Error().Err(err).Msg("bootstrap failed")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	os.Exit(Run(app, sigCh, lg))
}
