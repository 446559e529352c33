package httpx

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

	"github.com/ledgerforge/ops/internal/config"
)

// HeartbeatSource reports how long ago the worker last completed a loop
// iteration. Implemented by *job.Worker; nil when the process runs in
// api-only mode with no local worker to report on.
type HeartbeatSource interface {
	HeartbeatAge() time.Duration
}

const staleHeartbeatThreshold = 30 * time.Second

// Server holds the HTTP server dependencies and the global router. Domain
// handlers are mounted onto APIRouter by the caller after construction.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router
	Logger    *slog.Logger
	DB        *pgxpool.Pool

	workerRequired bool
	heartbeat      HeartbeatSource
	startedAt      time.Time
}

// NewServer creates an HTTP server with global middleware and the
// health/readiness/metrics endpoints wired. workerRequired marks whether
// readiness should also gate on a fresh worker heartbeat; heartbeat may be
// nil when workerRequired is false.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, metricsReg *prometheus.Registry, workerRequired bool, heartbeat HeartbeatSource) *Server {
	s := &Server{
		Router:         chi.NewRouter(),
		Logger:         logger,
		DB:             db,
		workerRequired: workerRequired,
		heartbeat:      heartbeat,
		startedAt:      time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Admin-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/api/ready", s.handleReady)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api", func(r chi.Router) {
		s.APIRouter = r
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

// handleReady reports ok = db_ok AND (worker_required -> heartbeat_age <= 30s).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbOK := true
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		dbOK = false
	}

	workerOK := true
	var heartbeatAge *float64
	if s.workerRequired {
		if s.heartbeat == nil {
			workerOK = false
		} else {
			age := s.heartbeat.HeartbeatAge()
			seconds := age.Seconds()
			heartbeatAge = &seconds
			workerOK = age <= staleHeartbeatThreshold
		}
	}

	resp := map[string]any{
		"db_ok":     dbOK,
		"worker_ok": workerOK,
	}
	if heartbeatAge != nil {
		resp["heartbeat_age_seconds"] = *heartbeatAge
	}

	if dbOK && workerOK {
		resp["ok"] = true
		Respond(w, http.StatusOK, resp)
		return
	}

	resp["ok"] = false
	Respond(w, http.StatusServiceUnavailable, resp)
}
