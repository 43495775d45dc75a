package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	//App
	Env      string // dev / staging / prod
	HTTPAddr string

	//Logging
	LogLevel  string
	LogFormat string // json / console

	// Document store
	MongoURI                    string
	MongoDB                     string
	MongoConnectTimeout         time.Duration
	MongoServerSelectionTimeout time.Duration
	MongoSocketTimeout          time.Duration
	HealthCheckInterval         time.Duration

	// Auth / Security
	TokenSigningSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	BcryptCost         int
	MaxLoginAttempts   int
	LockoutDuration    time.Duration

	// Feature flags
	EnablePasswordAuth       bool
	EnableGoogleOAuth        bool
	RequireEmailVerification bool

	// OAuth
	OAuthClientID        string
	OAuthClientSecret    string
	OAuthRedirectURI     string
	OAuthCallbackTimeout time.Duration

	// Camera RPC
	CameraURL               string
	CameraAPIKey            string
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration

	// Artifact cache / external sessions
	CacheDir   string
	CacheTTL   time.Duration
	SessionTTL time.Duration

	// Short-lived availability caches
	StatusCacheTTL time.Duration // camera availability
	LoginFreshTTL  time.Duration // storefront login verification

	// Optional infrastructure
	RedisAddr        string // empty => in-memory status cache
	RabbitURL        string // empty => no-op publisher
	StorefrontDriver string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
}

// LoadEnv reads a .env file if one exists. Safe to call multiple times;
// the file is optional and system environment always wins.
func LoadEnv() {
	_ = godotenv.Load()
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:       getEnv("ENV", "dev"),
		HTTPAddr:  getEnv("HTTP_ADDR", ":8093"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	// Required values. Fail fast here to avoid starting in a broken or
	// partially-initialized state.
	cfg.MongoURI = os.Getenv("MONGO_URI")
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("missing required env var: MONGO_URI")
	}

	cfg.TokenSigningSecret = os.Getenv("TOKEN_SIGNING_SECRET")
	if cfg.TokenSigningSecret == "" {
		return nil, fmt.Errorf("missing required env var: TOKEN_SIGNING_SECRET")
	}
	if len(cfg.TokenSigningSecret) < 32 {
		return nil, fmt.Errorf("TOKEN_SIGNING_SECRET must be at least 32 bytes")
	}

	cfg.MongoDB = getEnv("MONGO_DB", "pantry")

	var err error
	if cfg.MongoConnectTimeout, err = getDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MongoServerSelectionTimeout, err = getDuration("MONGO_SERVER_SELECTION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MongoSocketTimeout, err = getDuration("MONGO_SOCKET_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HealthCheckInterval, err = getDuration("HEALTHCHECK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ResetTokenTTL, err = getDuration("RESET_TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}

	if cfg.BcryptCost, err = getInt("BCRYPT_COST", 12); err != nil {
		return nil, err
	}
	if cfg.BcryptCost < 10 {
		return nil, fmt.Errorf("BCRYPT_COST must be at least 10")
	}
	if cfg.MaxLoginAttempts, err = getInt("MAX_LOGIN_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.LockoutDuration, err = getDuration("LOCKOUT_DURATION", 30*time.Minute); err != nil {
		return nil, err
	}

	if cfg.EnablePasswordAuth, err = getBool("ENABLE_PASSWORD_AUTH", true); err != nil {
		return nil, err
	}
	if cfg.EnableGoogleOAuth, err = getBool("ENABLE_GOOGLE_OAUTH", false); err != nil {
		return nil, err
	}
	if cfg.RequireEmailVerification, err = getBool("REQUIRE_EMAIL_VERIFICATION", false); err != nil {
		return nil, err
	}

	// OAuth credentials are required only when the provider is enabled.
	cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	cfg.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	if cfg.EnableGoogleOAuth {
		if cfg.OAuthClientID == "" {
			return nil, fmt.Errorf("missing required env var: OAUTH_CLIENT_ID")
		}
		if cfg.OAuthClientSecret == "" {
			return nil, fmt.Errorf("missing required env var: OAUTH_CLIENT_SECRET")
		}
	}
	cfg.OAuthRedirectURI = getEnv("OAUTH_REDIRECT_URI", "http://localhost:8080/auth/callback")
	if cfg.OAuthCallbackTimeout, err = getDuration("OAUTH_CALLBACK_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.CameraURL = getEnv("CAMERA_URL", "http://172.16.1.252:5000")
	cfg.CameraAPIKey = os.Getenv("CAMERA_API_KEY")
	if cfg.BreakerFailureThreshold, err = getInt("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerCooldown, err = getDuration("BREAKER_COOLDOWN", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = getDuration("RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = getDuration("RETRY_MAX_DELAY", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.CacheDir = getEnv("CACHE_DIR", "./cache")
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StatusCacheTTL, err = getDuration("STATUS_CACHE_TTL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.LoginFreshTTL, err = getDuration("LOGIN_FRESH_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	// Optional backing services: absent values select in-process fallbacks.
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RabbitURL = os.Getenv("RABBIT_URL")
	cfg.StorefrontDriver = getEnv("STOREFRONT_DRIVER", "memstore")

	if cfg.HTTPReadTimeout, err = getDuration("HTTP_READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPWriteTimeout, err = getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPIdleTimeout, err = getDuration("HTTP_IDLE_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q: %w", key, v, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %q: %w", key, v, err)
	}
	return b, nil
}
