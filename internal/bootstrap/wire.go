package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pantrylab/pantryd/internal/application/auth"
	"github.com/pantrylab/pantryd/internal/application/grocery"
	"github.com/pantrylab/pantryd/internal/application/ordering"
	"github.com/pantrylab/pantryd/internal/audit"
	"github.com/pantrylab/pantryd/internal/config"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/infrastructure/artifactcache"
	"github.com/pantrylab/pantryd/internal/infrastructure/camera"
	"github.com/pantrylab/pantryd/internal/infrastructure/extsession"
	"github.com/pantrylab/pantryd/internal/infrastructure/memory"
	"github.com/pantrylab/pantryd/internal/infrastructure/messaging/rabbitmq"
	"github.com/pantrylab/pantryd/internal/infrastructure/mongodb"
	"github.com/pantrylab/pantryd/internal/infrastructure/oauth"
	"github.com/pantrylab/pantryd/internal/infrastructure/redis"
	"github.com/pantrylab/pantryd/internal/infrastructure/security"
	"github.com/pantrylab/pantryd/internal/infrastructure/storefront/memstore"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/storefront"
	http_handlers "github.com/pantrylab/pantryd/internal/transport/http/handlers"
	"github.com/pantrylab/pantryd/internal/transport/http/middleware"
	"github.com/pantrylab/pantryd/internal/transport/http/router"
)

const (
	tokenIssuer = "pantryd"

	// faultThreshold is how many consecutive connection failures the
	// request monitor tolerates before escalating to process exit.
	faultThreshold = 3
)

// Deps lets tests substitute the outward-facing pieces. Zero values
// select the production wiring.
type Deps struct {
	// Mongo overrides the connection manager, e.g. with a stubbed
	// client factory.
	Mongo *mongodb.Manager
	// Publisher overrides broker selection entirely.
	Publisher auth.EventPublisher
	// StorefrontFactory overrides the driver named by config.
	StorefrontFactory storefront.Factory
}

// App is the assembled daemon: the HTTP server plus the long-lived
// components main has to drive (connection manager, sweep targets,
// fault monitor).
type App struct {
	Config *config.Config
	Server *http.Server

	Mongo     *mongodb.Manager
	Monitor   *middleware.FaultMonitor
	Sessions  *extsession.Store
	Registry  *extsession.Registry
	Artifacts *artifactcache.Cache
	Camera    *camera.Client

	cleanups []func()
}

// Cleanup releases resources in reverse construction order. Safe to
// call once, after the HTTP server has stopped.
func (a *App) Cleanup() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func New(cfg *config.Config) (*App, error) {
	return NewWithDeps(cfg, Deps{})
}

func NewWithDeps(cfg *config.Config, deps Deps) (*App, error) {
	log := logger.Component("bootstrap")
	app := &App{Config: cfg}

	fail := func(err error) (*App, error) {
		app.Cleanup()
		return nil, err
	}

	// Document store: the manager owns connection state; repositories
	// borrow clients per call and never observe a half-connected handle.
	mongoMgr := deps.Mongo
	if mongoMgr == nil {
		mongoMgr = mongodb.NewManager(mongodb.ManagerConfig{
			URI:                    cfg.MongoURI,
			Database:               cfg.MongoDB,
			ConnectTimeout:         cfg.MongoConnectTimeout,
			ServerSelectionTimeout: cfg.MongoServerSelectionTimeout,
			SocketTimeout:          cfg.MongoSocketTimeout,
			HealthInterval:         cfg.HealthCheckInterval,
		}, nil)
	}
	app.Mongo = mongoMgr
	app.cleanups = append(app.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoMgr.Disconnect(ctx)
	})

	userRepo := mongodb.NewUserRepo(mongoMgr)
	sessionRepo := mongodb.NewSessionRepo(mongoMgr)
	auditRepo := mongodb.NewAuditRepo(mongoMgr)
	groceryRepo := mongodb.NewGroceryRepo(mongoMgr)
	sysconfigRepo := mongodb.NewConfigRepo(mongoMgr)

	// Optional redis: absent or unreachable selects the in-process
	// equivalents, never a startup failure.
	var redisCli *redis.Client
	if cfg.RedisAddr != "" {
		cli := redis.New(cfg.RedisAddr, "", 0)
		if err := cli.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, using in-memory caches")
			_ = cli.Close()
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
			redisCli = cli
			app.cleanups = append(app.cleanups, func() { _ = cli.Close() })
		}
	}

	var (
		statusCache camera.StatusCache
		loginCache  ordering.LoginCache
		stateStore  auth.StateStore
	)
	if redisCli != nil {
		statusCache = redis.NewStatusCache(redisCli, cfg.StatusCacheTTL)
		loginCache = redis.NewLoginCache(redisCli, cfg.LoginFreshTTL)
		stateStore = redis.NewOAuthStateStore(redisCli, cfg.OAuthCallbackTimeout)
	} else {
		statusCache = memory.NewStatusCache(cfg.StatusCacheTTL)
		loginCache = memory.NewLoginCache(cfg.LoginFreshTTL)
		stateStore = memory.NewOAuthStateStore()
	}

	// Audit event publication, best-effort at-most-once.
	events := deps.Publisher
	if events == nil {
		if cfg.RabbitURL != "" {
			pub, err := rabbitmq.NewPublisher(cfg.RabbitURL)
			if err != nil {
				if cfg.Env != "dev" {
					return fail(fmt.Errorf("rabbitmq: %w", err))
				}
				log.Warn().Err(err).Msg("rabbitmq unreachable, recording events in memory")
				events = memory.NewEventRecorder()
			} else {
				events = pub
				app.cleanups = append(app.cleanups, func() { _ = pub.Close() })
			}
		} else {
			events = memory.NewEventRecorder()
		}
	}

	tokens, err := security.NewTokenService(
		cfg.TokenSigningSecret, tokenIssuer,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.ResetTokenTTL,
	)
	if err != nil {
		return fail(err)
	}
	hasher := security.NewBcryptHasher(cfg.BcryptCost)

	// External storefront sessions and the artifact cache live under
	// CacheDir; both are swept periodically by the daemon.
	sessionStore, err := extsession.NewStore(filepath.Join(cfg.CacheDir, "sessions"), cfg.SessionTTL)
	if err != nil {
		return fail(fmt.Errorf("session store: %w", err))
	}
	app.Sessions = sessionStore

	factory := deps.StorefrontFactory
	if factory == nil {
		switch cfg.StorefrontDriver {
		case "memstore":
			factory = memstore.NewCatalog(memstore.DefaultProducts()).Factory()
		default:
			return fail(fmt.Errorf("unknown storefront driver %q", cfg.StorefrontDriver))
		}
	}
	registry := extsession.NewRegistry(sessionStore, factory)
	app.Registry = registry
	app.cleanups = append(app.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.CloseAll(ctx)
	})

	artifacts, err := artifactcache.New(filepath.Join(cfg.CacheDir, "artifacts"), cfg.CacheTTL)
	if err != nil {
		return fail(fmt.Errorf("artifact cache: %w", err))
	}
	app.Artifacts = artifacts

	cameraCli, err := camera.New(camera.Config{
		BaseURL:          cfg.CameraURL,
		APIKey:           cfg.CameraAPIKey,
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Cooldown:         cfg.BreakerCooldown,
		ImageDir:         filepath.Join(cfg.CacheDir, "images"),
	}, statusCache, sysconfigRepo)
	if err != nil {
		return fail(fmt.Errorf("camera client: %w", err))
	}
	app.Camera = cameraCli

	// Application services.
	authSvc := auth.NewService(sessionRepo, userRepo, tokens, hasher, auditRepo,
		audit.New(logger.Component("audit"))).
		WithExternalSessions(registry).
		WithArtifactCache(artifacts).
		WithEvents(events)

	if cfg.EnablePasswordAuth {
		authSvc.RegisterProvider(auth.NewPasswordProvider(userRepo, hasher, auditRepo, auth.PasswordProviderConfig{
			MaxLoginAttempts: cfg.MaxLoginAttempts,
			LockoutDuration:  cfg.LockoutDuration,
			RequireVerified:  cfg.RequireEmailVerification,
		}))
	}

	var oauthProvider *auth.OAuthProvider
	if cfg.EnableGoogleOAuth {
		client := oauth.NewGoogleClient(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURI)
		oauthProvider = auth.NewOAuthProvider(client, userRepo, stateStore, auditRepo, domain.Profile{})
		authSvc.RegisterProvider(oauthProvider)
	}

	grocerySvc := grocery.NewService(groceryRepo)
	pipeline := ordering.NewPipeline(registry, loginCache, ordering.Config{})

	// Transport.
	monitor := middleware.NewFaultMonitor(faultThreshold)
	app.Monitor = monitor

	routerDeps := router.Deps{
		Health:  http_handlers.NewHealthHandler(mongoMgr, cameraCli),
		Auth:    http_handlers.NewAuthHandler(authSvc),
		Grocery: http_handlers.NewGroceryHandler(grocerySvc),
		Orders:  http_handlers.NewOrdersHandler(pipeline),
		AuthMW:  middleware.Auth(authSvc),
		Base: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.Device,
			middleware.AccessLog,
			middleware.Metrics,
			monitor.Middleware,
			middleware.SecurityHeaders,
			middleware.BodyLimit(0),
		},
	}
	if oauthProvider != nil {
		routerDeps.OAuth = http_handlers.NewOAuthHandler(authSvc, oauthProvider)
	}

	mux, err := router.New(routerDeps)
	if err != nil {
		return fail(err)
	}

	app.Server = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	return app, nil
}
