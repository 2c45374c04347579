package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// Environment is "development" or "production". Controls log encoding.
	Environment string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// StripeSecretKey authenticates calls to the payment platform.
	StripeSecretKey string

	// StripeWebhookSecret verifies webhook signatures. Webhook intake is
	// disabled when empty.
	StripeWebhookSecret string

	// SupabaseURL and SupabaseAnonKey enable remote session verification.
	SupabaseURL     string
	SupabaseAnonKey string

	// SupabaseJWTSecret enables local HS256 verification of access tokens and
	// takes precedence over the remote verifier.
	SupabaseJWTSecret string

	// ReconcileTimeout bounds a whole reconciliation, external calls included.
	ReconcileTimeout time.Duration

	// WorkerEnabled starts the follow-up job worker inside the server process.
	WorkerEnabled bool

	RateLimitRPS   float64
	RateLimitBurst int
}

const (
	defaultServerAddress    = ":18111"
	defaultEnvironment      = "development"
	defaultLogLevel         = "info"
	defaultReconcileTimeout = 10 * time.Second
	defaultRateLimitRPS     = 5
	defaultRateLimitBurst   = 10

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envEnvironment         = "APP_ENV"
	envLogLevel            = "LOG_LEVEL"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envSupabaseURL         = "SUPABASE_URL"
	envSupabaseAnonKey     = "SUPABASE_ANON_KEY"
	envSupabaseJWTSecret   = "SUPABASE_JWT_SECRET"
	envReconcileTimeout    = "RECONCILE_TIMEOUT"
	envWorkerEnabled       = "WORKER_ENABLED"
	envRateLimitRPS        = "RATE_LIMIT_RPS"
	envRateLimitBurst      = "RATE_LIMIT_BURST"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         strings.TrimSpace(os.Getenv(envDatabaseURL)),
		Environment:         firstNonEmpty(os.Getenv(envEnvironment), defaultEnvironment),
		LogLevel:            firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		StripeSecretKey:     strings.TrimSpace(os.Getenv(envStripeSecretKey)),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv(envStripeWebhookSecret)),
		SupabaseURL:         strings.TrimRight(strings.TrimSpace(os.Getenv(envSupabaseURL)), "/"),
		SupabaseAnonKey:     strings.TrimSpace(os.Getenv(envSupabaseAnonKey)),
		SupabaseJWTSecret:   strings.TrimSpace(os.Getenv(envSupabaseJWTSecret)),
		ReconcileTimeout:    defaultReconcileTimeout,
		WorkerEnabled:       true,
		RateLimitRPS:        defaultRateLimitRPS,
		RateLimitBurst:      defaultRateLimitBurst,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("%s is required", envStripeSecretKey)
	}
	if cfg.SupabaseJWTSecret == "" && (cfg.SupabaseURL == "" || cfg.SupabaseAnonKey == "") {
		return Config{}, fmt.Errorf("either %s or both %s and %s are required", envSupabaseJWTSecret, envSupabaseURL, envSupabaseAnonKey)
	}

	if value := os.Getenv(envReconcileTimeout); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envReconcileTimeout, value)
		}
		cfg.ReconcileTimeout = d
	}

	if value := os.Getenv(envWorkerEnabled); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envWorkerEnabled, err)
		}
		cfg.WorkerEnabled = enabled
	}

	if value := os.Getenv(envRateLimitRPS); value != "" {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil || rps <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envRateLimitRPS, value)
		}
		cfg.RateLimitRPS = rps
	}

	if value := os.Getenv(envRateLimitBurst); value != "" {
		burst, err := strconv.Atoi(value)
		if err != nil || burst <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envRateLimitBurst, value)
		}
		cfg.RateLimitBurst = burst
	}

	return cfg, nil
}

// LoadDatabase reads only what the migration tool needs: the DSN and the
// logging settings.
func LoadDatabase() (Config, error) {
	cfg := Config{
		DatabaseURL: strings.TrimSpace(os.Getenv(envDatabaseURL)),
		Environment: firstNonEmpty(os.Getenv(envEnvironment), defaultEnvironment),
		LogLevel:    firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
