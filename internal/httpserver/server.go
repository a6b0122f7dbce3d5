package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gsmlg-dev/secrethub/internal/config"
	"github.com/gsmlg-dev/secrethub/internal/operator"
)

// Server holds the HTTP server dependencies and exposes the §6 REST
// surface. Domain subsystems mount their own chi.Router (audit.Handler,
// policy.Handler, secrets.Handler, cluster.Handler, lease.Handler) onto
// Admin after NewServer returns.
type Server struct {
	Router    *chi.Mux
	Admin     chi.Router // operator-authenticated management routes
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	Sys       *SysHandler
	startedAt time.Time
}

// NewServer creates an HTTP server with middleware, the unauthenticated
// /sys/* surface, and an authenticated /admin sub-router that domain
// handlers are mounted onto.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, sysHandler *SysHandler) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		Sys:       sysHandler,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Process liveness/readiness (unauthenticated, distinct from /sys/health's
	// seal-aware status — see handleHealthz/handleReadyz).
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle(cfg.MetricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	// §6 seal/unseal REST surface. /sys/health is intentionally outside the
	// operator-authenticated /admin tree: it must stay reachable by an
	// unauthenticated orchestrator liveness probe, and it reveals no secret
	// material, only seal/init state.
	s.Router.Route("/sys", func(r chi.Router) {
		r.Post("/init", s.Sys.HandleInit)
		r.Post("/unseal", s.Sys.HandleUnseal)
		r.Post("/seal", s.Sys.HandleSeal)
		r.Get("/seal-status", s.Sys.HandleSealStatus)
		r.Get("/health", s.Sys.HandleHealth)
	})

	opAuth := operator.NewAuthenticator(cfg.OperatorAPIKey)
	s.Router.Route("/admin", func(r chi.Router) {
		r.Use(opAuth.Middleware)
		s.Admin = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
