package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/audit"
	"github.com/gsmlg-dev/secrethub/internal/cluster"
	"github.com/gsmlg-dev/secrethub/internal/config"
	"github.com/gsmlg-dev/secrethub/internal/httpserver"
	"github.com/gsmlg-dev/secrethub/internal/lease"
	"github.com/gsmlg-dev/secrethub/internal/lock"
	"github.com/gsmlg-dev/secrethub/internal/platform"
	"github.com/gsmlg-dev/secrethub/internal/policy"
	"github.com/gsmlg-dev/secrethub/internal/ratelimit"
	"github.com/gsmlg-dev/secrethub/internal/seal"
	"github.com/gsmlg-dev/secrethub/internal/secrets"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
	"github.com/gsmlg-dev/secrethub/internal/version"
)

// Run is the main application entry point. Given the loaded config, it
// connects to infrastructure, starts the seal, cluster, and audit actors, and serves
// the §6 REST surface until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting secrethub-core", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "secrethub-core", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL, 20)
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
			logger.Error("closing redis connection", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry()

	nodeID := uuid.New()
	holderID := nodeID.String()

	queries := store.New(db)
	locks := lock.NewManager(db, holderID)

	sealMgr := seal.New(queries, cfg.AutoSealTimeout)
	go sealMgr.Run(ctx)

	coordinator := cluster.New(cluster.Config{
		HeartbeatInterval: cfg.NodeHeartbeatInterval,
		StaleAfter:        cfg.NodeTimeout,
		ElectionInterval:  cfg.LeaderCheckInterval,
		HealthRetention:   cfg.HealthHistoryRetain,
	}, queries, locks, sealMgr, logger, nodeID, cfg.NodeAddress)
	go func() {
		if err := coordinator.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("cluster coordinator stopped", "error", err)
		}
	}()

	auditWriter := audit.NewWriter(queries, []byte(cfg.AuditHMACKey), logger)
	go auditWriter.Run(ctx)

	policyCache := policy.NewCache(rdb, cfg.PolicyCacheTTL)
	policyEval := policy.New(queries, policyCache)
	policyAdmin := policy.NewAdmin(queries)

	secretsMgr := secrets.New(db, sealMgr, policyEval, auditWriter)
	leaseMgr := lease.New(queries, queries, policyEval)

	unsealLimiter := ratelimit.New(rdb, "unseal_attempt", cfg.UnsealRateLimitMax, cfg.UnsealRateLimitWindow)
	sysHandler := httpserver.NewSysHandler(coordinator, sealMgr, unsealLimiter)
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, sysHandler)

	srv.Admin.Mount("/audit-log", audit.NewHandler(auditWriter).Routes())
	srv.Admin.Mount("/policies", policy.NewHandler(policyAdmin, policyEval, auditWriter).Routes())
	srv.Admin.Mount("/secrets", secrets.NewHandler(secretsMgr).Routes())
	srv.Admin.Mount("/cluster", cluster.NewHandler(coordinator, sealMgr).Routes())
	srv.Admin.Mount("/leases", lease.NewHandler(leaseMgr).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("core server listening", "addr", cfg.ListenAddr(), "node_id", nodeID)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down core server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
