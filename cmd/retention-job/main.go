// retention-job runs one retention sweep against the queue database and
// prints the JSON report. It exits non-zero when the run is rejected, fails,
// or is interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queue-service/internal/auth"
	"qms/queue-service/internal/config"
	"qms/queue-service/internal/lock"
	"qms/queue-service/internal/logging"
	"qms/queue-service/internal/retention"
	"qms/queue-service/internal/store/postgres"
	"qms/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	retention retention.Config
	token     string
	mint      bool
	timeout   time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	opts := options{retention: retention.DefaultConfig()}
	cfg := &opts.retention
	var cleanupType, archivalMode string
	var noArchive bool

	flagSet := pflag.NewFlagSet("retention-job", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&cfg.OrganizationID, "org", "", "clean only this organization (default: all)")
	flagSet.StringVar(&cleanupType, "type", string(cfg.CleanupType), "what to clean: tickets, notifications or both")
	flagSet.IntVar(&cfg.TicketRetentionHours, "ticket-retention-hours", cfg.TicketRetentionHours, "keep terminal tickets updated within this many hours")
	flagSet.BoolVar(&noArchive, "no-archive", false, "delete tickets without archiving them")
	flagSet.StringVar(&archivalMode, "archival-mode", string(cfg.ArchivalMode), "best_effort or strict")
	flagSet.IntVar(&cfg.SuccessfulNotificationRetentionMinutes, "success-log-retention-minutes", cfg.SuccessfulNotificationRetentionMinutes, "keep successful notification logs this many minutes")
	flagSet.IntVar(&cfg.FailedNotificationRetentionHours, "failed-log-retention-hours", cfg.FailedNotificationRetentionHours, "keep failed notification logs this many hours")
	flagSet.BoolVar(&cfg.DryRun, "dry-run", false, "count what would be removed without removing it")
	flagSet.IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "maximum tickets removed per organization")
	flagSet.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "organizations cleaned in parallel")
	flagSet.StringVar(&opts.token, "token", os.Getenv("QMS_ADMIN_TOKEN"), "admin credential (default: $QMS_ADMIN_TOKEN)")
	flagSet.BoolVar(&opts.mint, "mint", false, "mint a short-lived admin token from ADMIN_JWT_SECRET")
	flagSet.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "abort the run after this long")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	cfg.CleanupType = retention.CleanupType(cleanupType)
	cfg.ArchivalMode = retention.ArchivalMode(archivalMode)
	cfg.ArchiveTickets = !noArchive
	if opts.mint && opts.token != "" {
		return options{}, errors.New("--mint and --token are mutually exclusive")
	}
	return opts, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if err := opts.retention.Validate(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DB_DSN is required")
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	shutdownTracing := telemetry.Setup(ctx, "retention-job", logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	authorizer, minter, err := auth.NewAdmin(cfg.AdminTokenHash, cfg.AdminJWTSecret, cfg.AdminJWTIssuer)
	if err != nil {
		return err
	}
	token := opts.token
	if opts.mint {
		if minter == nil {
			return errors.New("--mint requires ADMIN_JWT_SECRET")
		}
		if token, err = minter.Issue("retention-job", opts.timeout+time.Minute); err != nil {
			return err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	var locker retention.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		client, err := lock.Open(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		locker = lock.NewRedis(client)
	}

	store := postgres.NewStore(pool)
	engine := retention.New(store, postgres.NewNotificationLogStore(pool), store, retention.Options{
		Authorizer: authorizer,
		Locker:     locker,
		LockTTL:    cfg.RetentionLockTTL,
		Logger:     logger,
	})

	report, runErr := engine.Run(ctx, opts.retention, token)
	if report.RunID != "" {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			logger.Warn("write report", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Totals.OrganizationsWithErrors > 0 {
		return fmt.Errorf("%d organizations reported errors", report.Totals.OrganizationsWithErrors)
	}
	return nil
}
