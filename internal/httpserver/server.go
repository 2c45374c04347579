package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PortNumber53/saas-starter/internal/auth"
	"github.com/PortNumber53/saas-starter/internal/config"
	"github.com/PortNumber53/saas-starter/internal/handlers"
	"github.com/PortNumber53/saas-starter/internal/logger"
	requestmw "github.com/PortNumber53/saas-starter/internal/middleware"
	"github.com/PortNumber53/saas-starter/internal/worker"
)

// Deps are the collaborators the router is built from. Webhook, DB and
// Worker are optional.
type Deps struct {
	Auth       auth.Authenticator
	Reconciler handlers.Reconciler
	Syncer     handlers.UserSyncer
	Snapshots  handlers.SnapshotReader
	Webhook    http.Handler
	DB         handlers.Pinger
	Worker     *worker.Worker
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer   *http.Server
	worker       *worker.Worker
	log          *logger.Logger
	cancelWorker context.CancelFunc
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, log *logger.Logger, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestmw.RequestLogger(log))
	router.Use(middleware.Recoverer)

	var stats handlers.WorkerStats
	if deps.Worker != nil {
		stats = deps.Worker
	}
	router.Get("/healthz", handlers.Health(deps.DB, stats))

	if deps.Webhook != nil {
		router.Method(http.MethodPost, "/api/webhooks/stripe", deps.Webhook)
	}

	limiter := requestmw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(deps.Auth, log))

		r.Get("/api/billing/subscription", handlers.Subscription(deps.Snapshots, log))

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware())

			reconcile := handlers.Reconcile(deps.Reconciler, log)
			r.Post("/api/reconcile", reconcile)
			r.Post("/reconcile", reconcile)

			sync := handlers.Sync(deps.Syncer, log)
			r.Post("/api/sync", sync)
			r.Post("/sync", sync)
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ReconcileTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, log: log}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start() error {
	if s.worker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelWorker = cancel
		s.worker.Start(ctx)
	}
	s.log.Infow("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		if err := s.worker.Stop(ctx); err != nil {
			s.log.Warnw("worker shutdown error", "error", err)
		}
		if s.cancelWorker != nil {
			s.cancelWorker()
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
