// Package app wires configuration, infrastructure clients, and every
// domain service into the two runnable processes: the API server and the
// worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerforge/ops/internal/auth"
	"github.com/ledgerforge/ops/internal/config"
	"github.com/ledgerforge/ops/internal/httpx"
	"github.com/ledgerforge/ops/internal/incident"
	"github.com/ledgerforge/ops/internal/job"
	"github.com/ledgerforge/ops/internal/logging"
	"github.com/ledgerforge/ops/internal/metrics"
	"github.com/ledgerforge/ops/internal/platform"
	"github.com/ledgerforge/ops/internal/slackalert"
	"github.com/ledgerforge/ops/internal/webhook"
)

// Run is the process entry point: it connects to infrastructure, applies
// migrations, and dispatches to the configured mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting ops", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(metrics.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func buildRegistry(cfg *config.Config) job.Registry {
	reg := job.Registry{"mock": job.MockAdapter{}}
	if cfg.ProviderMode == "replicate" {
		reg["replicate"] = job.NewReplicateAdapter(cfg.ReplicateAPIToken, time.Duration(cfg.ReplicatePollTimeoutSeconds)*time.Second)
	}
	return reg
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	authStore := auth.NewStore(db)
	rateLimiter := auth.NewRateLimiter(rdb, cfg.AuthLoginMaxAttempts,
		time.Duration(cfg.AuthLoginWindowSeconds)*time.Second,
		time.Duration(cfg.AuthLoginLockSeconds)*time.Second,
	)
	authSvc := auth.NewService(authStore, rateLimiter, cfg.AuthSessionDays, cfg.CORSAllowedOrigins)
	authHandler := auth.NewHandler(authSvc)

	webhookSvc := webhook.NewService(db, cfg.StripeWebhookSecret)
	webhookHandler := webhook.NewHandler(webhookSvc, db, cfg.StripeCreditPriceCents)

	jobSvc := job.NewService(db)
	jobHandler := job.NewHandler(jobSvc)

	slackNotifier := slackalert.NewNotifier(cfg.OpsSlackBotToken, cfg.OpsSlackChannel, logger)
	incidentSvc := incident.NewService(db, slackNotifier, logger)
	incidentHandler := incident.NewHandler(incidentSvc)

	var heartbeat httpx.HeartbeatSource
	if cfg.WorkerEnabled {
		worker := job.NewWorker(db, buildRegistry(cfg), logger,
			time.Duration(cfg.WorkerPollIntervalMS)*time.Millisecond,
			time.Duration(cfg.JobStaleRunningSeconds)*time.Second,
		)
		heartbeat = worker
		go worker.Run(ctx)
		logger.Info("worker running in-process alongside api")
	}

	srv := httpx.NewServer(cfg, logger, db, metricsReg, cfg.WorkerEnabled, heartbeat)

	requireSession := auth.RequireSession(authSvc)
	requireAdmin := auth.RequireAdmin(cfg.AdminToken)

	srv.APIRouter.Mount("/auth", authHandler.Routes())
	srv.APIRouter.Mount("/credits", webhookHandler.CreditsRoutes(requireSession))
	srv.APIRouter.Mount("/billing", webhookHandler.BillingRoutes(requireSession))
	srv.APIRouter.Mount("/jobs", jobHandler.Routes(requireSession))
	srv.APIRouter.Mount("/ops", jobHandler.AdminRoutes(requireAdmin))
	srv.APIRouter.Route("/admin/guardrails", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Mount("/", incidentHandler.Routes())
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	logger.Info("worker started")

	worker := job.NewWorker(db, buildRegistry(cfg), logger,
		time.Duration(cfg.WorkerPollIntervalMS)*time.Millisecond,
		time.Duration(cfg.JobStaleRunningSeconds)*time.Second,
	)

	slackNotifier := slackalert.NewNotifier(cfg.OpsSlackBotToken, cfg.OpsSlackChannel, logger)
	incidentSvc := incident.NewService(db, slackNotifier, logger)
	go runSLASweep(ctx, incidentSvc, logger, time.Duration(cfg.SLAOverdueSweepIntervalSeconds)*time.Second)

	worker.Run(ctx)
	return nil
}

// runSLASweep periodically syncs default tasks for open incidents and
// re-lists tasks so overdue P1 tasks get their SLA alert dispatched, even
// when no admin is actively polling the guardrail task list.
func runSLASweep(ctx context.Context, svc *incident.Service, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if created, err := svc.SyncTasksFromOpenIncidents(ctx); err != nil {
				logger.Error("syncing incident tasks failed", "error", err)
			} else if created > 0 {
				logger.Info("synced default incident tasks", "created", created)
			}
			if _, err := svc.ListTasks(ctx, "", 500); err != nil {
				logger.Error("sweeping incident tasks for sla alerts failed", "error", err)
			}
		}
	}
}
