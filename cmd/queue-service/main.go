package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queue-service/internal/auth"
	"qms/queue-service/internal/config"
	"qms/queue-service/internal/httpapi"
	"qms/queue-service/internal/ledger"
	"qms/queue-service/internal/lock"
	"qms/queue-service/internal/logging"
	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/retention"
	"qms/queue-service/internal/store/postgres"
	"qms/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "queue-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	shutdownTracing := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	authorizer, minter, err := auth.NewAdmin(cfg.AdminTokenHash, cfg.AdminJWTSecret, cfg.AdminJWTIssuer)
	if err != nil {
		logger.Fatal("admin credentials", zap.Error(err))
	}

	var locker retention.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		client, err := lock.Open(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		locker = lock.NewRedis(client)
	}

	m := metrics.NewDefault()
	store := postgres.NewStore(pool)
	engine := retention.New(store, postgres.NewNotificationLogStore(pool), store, retention.Options{
		Authorizer:        authorizer,
		Locker:            locker,
		LockTTL:           cfg.RetentionLockTTL,
		Metrics:           m,
		Logger:            logger.Named("retention"),
		PurgeArchivalMode: cfg.RetentionArchival,
	})
	service := ledger.NewService(store, store, ledger.Options{
		Purger:  engine,
		Logger:  logger.Named("ledger"),
		Metrics: m,
	})
	handler := httpapi.NewHandler(service, engine, httpapi.Options{
		Health:  store,
		Metrics: m,
		Logger:  logger.Named("http"),
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:         cfg.RateLimitPerMinute,
		IPBurst:             cfg.RateLimitBurst,
		DepartmentPerMinute: cfg.DepartmentRateLimitPerMinute,
		DepartmentBurst:     cfg.DepartmentRateLimitBurst,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger.Named("access"), m, limiter.Middleware(handler.Routes())), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("queue-service listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	if cfg.RetentionInterval > 0 {
		go runScheduledRetention(ctx, engine, minter, cfg, logger.Named("scheduler"))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

// runScheduledRetention sweeps every organization on a ticker. Each run is
// authorized with a freshly minted token that outlives the interval only
// briefly.
func runScheduledRetention(ctx context.Context, engine *retention.Engine, minter *auth.JWT, cfg config.Config, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		token, err := minter.Issue("retention-scheduler", cfg.RetentionInterval+time.Minute)
		if err != nil {
			logger.Error("mint scheduler token", zap.Error(err))
			continue
		}
		runCfg := retention.DefaultConfig()
		runCfg.ArchivalMode = cfg.RetentionArchival
		runCfg.Concurrency = cfg.RetentionConcurrency

		report, err := engine.Run(ctx, runCfg, token)
		switch {
		case errors.Is(err, retention.ErrRunInProgress):
			logger.Info("retention run skipped, another replica holds the lock")
		case err != nil:
			logger.Error("scheduled retention run failed", zap.Error(err))
		default:
			logger.Info("scheduled retention run complete",
				zap.String("run_id", report.RunID),
				zap.Int64("tickets_deleted", report.Totals.TicketsDeleted),
				zap.Int64("notifications_deleted", report.Totals.NotificationsDeleted),
				zap.Bool("has_more", report.HasMore))
		}
	}
}
