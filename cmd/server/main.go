package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/saas-starter/internal/auth"
	"github.com/PortNumber53/saas-starter/internal/billing"
	"github.com/PortNumber53/saas-starter/internal/config"
	"github.com/PortNumber53/saas-starter/internal/handlers"
	"github.com/PortNumber53/saas-starter/internal/httpserver"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/migrations"
	"github.com/PortNumber53/saas-starter/internal/store"
	"github.com/PortNumber53/saas-starter/internal/stripe"
	"github.com/PortNumber53/saas-starter/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to open database", "error", err)
	}
	defer db.Close()

	logDBTarget(log, "primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalw("failed to ping database", "error", err)
	}

	if err := runMigrationsWithDirtyFix(db, log); err != nil {
		log.Fatalw("failed to apply database migrations", "error", err)
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatalw("failed to create store", "error", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatalw("failed to create job store", "error", err)
	}

	platform := stripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	var jobs *worker.Worker
	var queue billing.JobQueue = jobStore
	if cfg.WorkerEnabled {
		jobs = worker.New(worker.DefaultConfig(), jobStore, log)
		queue = jobs
	}

	reconciler := billing.NewReconciler(billing.ReconcilerDeps{
		Platform:   platform,
		Profiles:   st,
		Sessions:   st,
		Snapshots:  st,
		Lookup:     st,
		Operations: st,
		Queue:      queue,
		Logger:     log,
		Timeout:    cfg.ReconcileTimeout,
	})
	if jobs != nil {
		worker.RegisterBillingJobs(jobs, platform, reconciler.Syncer())
	}

	deps := httpserver.Deps{
		Auth:       authenticator(cfg),
		Reconciler: reconciler,
		Syncer:     reconciler.Syncer(),
		Snapshots:  st,
		DB:         st,
		Worker:     jobs,
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Webhook = handlers.NewWebhookHandler(platform, st, st, reconciler.Syncer(), queue, log)
	} else {
		log.Warnw("STRIPE_WEBHOOK_SECRET not set; webhook intake disabled")
	}

	srv := httpserver.New(cfg, log, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Errorw("graceful shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("server exited with error", "error", err)
		os.Exit(1)
	}
}

// authenticator prefers local token verification when the JWT secret is set.
func authenticator(cfg config.Config) auth.Authenticator {
	if cfg.SupabaseJWTSecret != "" {
		return auth.NewJWTVerifier(cfg.SupabaseJWTSecret)
	}
	return auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey)
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, log *logger.Logger) error {
	err := migrations.Up(db, log)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "Dirty database version") {
		return err
	}

	log.Warnw("migrations: dirty database detected, attempting to fix", "error", err)
	if fixErr := migrations.FixDirtyDatabase(db, log); fixErr != nil {
		log.Errorw("migrations: failed to fix dirty database", "error", fixErr)
		return err
	}
	return migrations.Up(db, log)
}

func logDBTarget(log *logger.Logger, name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Infow("database configured", "name", name, "dsn_parse_error", err)
		return
	}
	log.Infow("database configured", "name", name, "host", u.Hostname(), "db", strings.TrimPrefix(u.Path, "/"))
}
