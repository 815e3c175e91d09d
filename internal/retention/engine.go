package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/queue-service/internal/auth"
	"qms/queue-service/internal/lock"
	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const runLockKey = "qms:retention:run"

type Authorizer interface {
	Authorize(ctx context.Context, credential string) error
}

// Locker guards a run across replicas. Acquire reports false when another
// holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type Options struct {
	Authorizer Authorizer
	Locker     Locker
	LockTTL    time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Tracer     trace.Tracer
	Now        func() time.Time

	// PurgeArchivalMode applies to department purges, which take no
	// per-call config.
	PurgeArchivalMode ArchivalMode
}

// Engine archives and deletes terminal tickets and prunes notification logs,
// one organization at a time. A failing organization never stops the others.
type Engine struct {
	tickets    store.RetentionStore
	logs       store.NotificationLogStore
	directory  store.TenantDirectory
	authorizer Authorizer
	locker     Locker
	lockTTL    time.Duration
	purge      Config
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func New(tickets store.RetentionStore, logs store.NotificationLogStore, directory store.TenantDirectory, options Options) *Engine {
	e := &Engine{
		tickets:    tickets,
		logs:       logs,
		directory:  directory,
		authorizer: options.Authorizer,
		locker:     options.Locker,
		lockTTL:    options.LockTTL,
		metrics:    options.Metrics,
		logger:     options.Logger,
		tracer:     options.Tracer,
		now:        options.Now,
	}
	if e.authorizer == nil {
		e.authorizer = auth.DenyAll{}
	}
	if e.locker == nil {
		e.locker = lock.Noop{}
	}
	if e.lockTTL <= 0 {
		e.lockTTL = 10 * time.Minute
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("qms/retention")
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	purge := DefaultConfig()
	if options.PurgeArchivalMode != "" {
		purge.ArchivalMode = options.PurgeArchivalMode
	}
	e.purge = purge
	return e
}

// Run authorizes the caller, validates cfg and cleans every targeted
// organization. Cancellation is checked between organizations; an
// interrupted run returns the report so far together with the context error.
func (e *Engine) Run(ctx context.Context, cfg Config, credential string) (Report, error) {
	if err := e.authorizer.Authorize(ctx, credential); err != nil {
		e.metrics.ObserveRun("rejected", 0)
		return Report{}, err
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		e.metrics.ObserveRun("rejected", 0)
		return Report{}, err
	}

	release, ok, err := e.locker.Acquire(ctx, runLockKey, e.lockTTL)
	if err != nil {
		e.metrics.ObserveRun("failed", 0)
		return Report{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		e.metrics.ObserveRun("skipped", 0)
		return Report{}, ErrRunInProgress
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			e.logger.Warn("release run lock failed", zap.Error(err))
		}
	}()

	started := e.now()
	report := Report{
		RunID:       uuid.NewString(),
		DryRun:      cfg.DryRun,
		CleanupType: cfg.CleanupType,
		StartedAt:   started,
		Results:     []CleanupResult{},
	}
	ctx, span := e.tracer.Start(ctx, "retention.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Bool("dry_run", cfg.DryRun),
		attribute.String("cleanup_type", string(cfg.CleanupType)),
	))
	defer span.End()
	logger := e.logger.With(zap.String("run_id", report.RunID), zap.Bool("dry_run", cfg.DryRun))

	orgs, err := e.directory.ListOrganizations(ctx, cfg.OrganizationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve organizations")
		e.metrics.ObserveRun("failed", e.now().Sub(started))
		return Report{}, fmt.Errorf("resolve organizations: %w", err)
	}
	logger.Info("retention run started", zap.Int("organizations", len(orgs)))

	results := make([]CleanupResult, len(orgs))
	done := make([]bool, len(orgs))
	if cfg.Concurrency <= 1 {
		for i, org := range orgs {
			if ctx.Err() != nil {
				break
			}
			results[i] = e.cleanOrganization(ctx, cfg, org, started, logger)
			done[i] = true
		}
	} else {
		var g errgroup.Group
		g.SetLimit(cfg.Concurrency)
		for i, org := range orgs {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results[i] = e.cleanOrganization(ctx, cfg, org, started, logger)
				done[i] = true
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range results {
		if done[i] {
			report.Results = append(report.Results, results[i])
		}
	}
	report.aggregate()
	report.FinishedAt = e.now()
	report.DurationMS = report.FinishedAt.Sub(started).Milliseconds()
	report.Recommendations = globalRecommendations(report)

	span.SetAttributes(
		attribute.Int("organizations_processed", report.OrganizationsProcessed),
		attribute.Int64("tickets_deleted", report.Totals.TicketsDeleted),
		attribute.Bool("has_more", report.HasMore),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "interrupted")
		e.metrics.ObserveRun("interrupted", report.FinishedAt.Sub(started))
		logger.Warn("retention run interrupted",
			zap.Int("organizations_processed", report.OrganizationsProcessed),
			zap.Int("organizations_total", len(orgs)))
		return report, fmt.Errorf("retention run interrupted: %w", err)
	}

	outcome := "success"
	if report.Totals.OrganizationsWithErrors > 0 {
		outcome = "partial"
	}
	e.metrics.ObserveRun(outcome, report.FinishedAt.Sub(started))
	logger.Info("retention run finished",
		zap.String("outcome", outcome),
		zap.Int("organizations_processed", report.OrganizationsProcessed),
		zap.Int64("tickets_deleted", report.Totals.TicketsDeleted),
		zap.Int64("tickets_archived", report.Totals.TicketsArchived),
		zap.Int64("notifications_deleted", report.Totals.NotificationsDeleted),
		zap.Bool("has_more", report.HasMore),
		zap.Int64("duration_ms", report.DurationMS))
	return report, nil
}

func (e *Engine) cleanOrganization(ctx context.Context, cfg Config, org models.Organization, now time.Time, logger *zap.Logger) (result CleanupResult) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "retention.organization", trace.WithAttributes(
		attribute.String("organization_id", org.OrganizationID),
	))
	logger = logger.With(zap.String("organization_id", org.OrganizationID))
	result = CleanupResult{
		OrganizationID:   org.OrganizationID,
		OrganizationName: org.Name,
		Errors:           []string{},
		Warnings:         []string{},
	}

	defer func() {
		if r := recover(); r != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", r))
			logger.Error("organization cleanup panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		result.DurationMS = e.now().Sub(start).Milliseconds()
		result.Recommendations = organizationRecommendations(result, cfg)
		if len(result.Errors) > 0 {
			span.SetStatus(codes.Error, result.Errors[0])
		}
		span.End()
		if !cfg.DryRun {
			e.metrics.ObserveOrganization(result.TicketsArchived, result.TicketsDeleted,
				result.SuccessfulNotificationsDeleted, result.FailedNotificationsDeleted, len(result.Errors) > 0)
		}
	}()

	if cfg.CleanupType.includesTickets() {
		cutoff := now.Add(-time.Duration(cfg.TicketRetentionHours) * time.Hour).Truncate(time.Microsecond)
		if err := e.cleanTickets(ctx, cfg, org, cutoff, &result, logger); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tickets: %v", err))
			logger.Error("ticket cleanup failed", zap.Error(err))
		}
	}
	if cfg.CleanupType.includesNotifications() {
		e.cleanNotifications(ctx, cfg, org, now, &result, logger)
	}
	return result
}

func (e *Engine) cleanTickets(ctx context.Context, cfg Config, org models.Organization, cutoff time.Time, result *CleanupResult, logger *zap.Logger) error {
	departments, err := e.directory.ListDepartments(ctx, org.OrganizationID)
	if err != nil {
		return fmt.Errorf("list departments: %w", err)
	}
	if len(departments) == 0 {
		return nil
	}
	ids := make([]string, 0, len(departments))
	for _, dept := range departments {
		ids = append(ids, dept.DepartmentID)
	}

	// One extra row tells a full batch apart from a backlog.
	selected, err := e.tickets.SelectExpiredTickets(ctx, store.TicketSelection{
		DepartmentIDs: ids,
		UpdatedBefore: cutoff,
		Limit:         cfg.MaxBatchSize + 1,
	})
	if err != nil {
		return fmt.Errorf("select expired tickets: %w", err)
	}
	if len(selected) > cfg.MaxBatchSize {
		selected = selected[:cfg.MaxBatchSize]
		result.TicketsHasMore = true
	}
	if len(selected) == 0 {
		return nil
	}

	outcome, err := e.removeTickets(ctx, cfg, selected, logger)
	result.TicketsArchived += outcome.archived
	result.TicketsDeleted += outcome.deleted
	result.Warnings = append(result.Warnings, outcome.warnings...)
	return err
}

func (e *Engine) cleanNotifications(ctx context.Context, cfg Config, org models.Organization, now time.Time, result *CleanupResult, logger *zap.Logger) {
	tiers := []struct {
		outcome string
		cutoff  time.Time
		count   *int64
	}{
		{
			outcome: models.OutcomeSuccess,
			cutoff:  now.Add(-time.Duration(cfg.SuccessfulNotificationRetentionMinutes) * time.Minute).Truncate(time.Microsecond),
			count:   &result.SuccessfulNotificationsDeleted,
		},
		{
			outcome: models.OutcomeFailed,
			cutoff:  now.Add(-time.Duration(cfg.FailedNotificationRetentionHours) * time.Hour).Truncate(time.Microsecond),
			count:   &result.FailedNotificationsDeleted,
		},
	}

	for _, tier := range tiers {
		filter := store.LogFilter{
			OrganizationID: org.OrganizationID,
			Outcome:        tier.outcome,
			CreatedBefore:  tier.cutoff,
		}
		var n int64
		var err error
		if cfg.DryRun {
			n, err = e.logs.CountLogs(ctx, filter)
		} else {
			n, err = e.logs.DeleteLogs(ctx, filter)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s notification logs: %v", tier.outcome, err))
			logger.Error("notification log cleanup failed", zap.String("outcome", tier.outcome), zap.Error(err))
			continue
		}
		*tier.count = n
	}
}

type removal struct {
	archived int64
	deleted  int64
	warnings []string
}

// removeTickets archives then deletes one batch. Under dry run it reports
// the batch size for both without writing.
func (e *Engine) removeTickets(ctx context.Context, cfg Config, tickets []models.Ticket, logger *zap.Logger) (removal, error) {
	var out removal
	batch := int64(len(tickets))

	if cfg.ArchiveTickets {
		if cfg.DryRun {
			out.archived = batch
		} else {
			archivedAt := e.now()
			snapshots := make([]models.ArchivedTicket, 0, len(tickets))
			for _, ticket := range tickets {
				snapshots = append(snapshots, models.NewArchivedTicket(ticket, archivedAt))
			}
			if _, err := e.tickets.ArchiveTickets(ctx, snapshots); err != nil {
				if cfg.ArchivalMode == ArchivalStrict {
					return out, fmt.Errorf("archive %d tickets, deletion skipped: %w", batch, err)
				}
				logger.Warn("archive failed, deleting anyway", zap.Int64("tickets", batch), zap.Error(err))
				out.warnings = append(out.warnings, fmt.Sprintf("archive %d tickets failed, deleted without archive: %v", batch, err))
			} else {
				out.archived = batch
			}
		}
	}

	if cfg.DryRun {
		out.deleted = batch
		return out, nil
	}

	ids := make([]string, 0, len(tickets))
	for _, ticket := range tickets {
		ids = append(ids, ticket.TicketID)
	}
	deleted, err := e.tickets.DeleteTickets(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("delete tickets: %w", err)
	}
	out.deleted = deleted
	return out, nil
}

// PurgeDepartment archives and deletes every terminal ticket of one
// department regardless of age, looping in batches until none remain.
func (e *Engine) PurgeDepartment(ctx context.Context, departmentID string) (PurgeResult, error) {
	cfg := e.purge
	result := PurgeResult{DepartmentID: departmentID}
	logger := e.logger.With(zap.String("department_id", departmentID))

	ctx, span := e.tracer.Start(ctx, "retention.purge_department", trace.WithAttributes(
		attribute.String("department_id", departmentID),
	))
	defer span.End()

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := e.tickets.SelectExpiredTickets(ctx, store.TicketSelection{
			DepartmentIDs: []string{departmentID},
			Limit:         cfg.MaxBatchSize,
		})
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("select terminal tickets: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		outcome, err := e.removeTickets(ctx, cfg, batch, logger)
		result.Batches++
		result.TicketsArchived += outcome.archived
		result.TicketsDeleted += outcome.deleted
		result.Warnings = append(result.Warnings, outcome.warnings...)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		if outcome.deleted == 0 {
			return result, errors.New("purge made no progress")
		}
	}

	e.metrics.ObserveOrganization(result.TicketsArchived, result.TicketsDeleted, 0, 0, false)
	logger.Info("department purged",
		zap.Int64("tickets_archived", result.TicketsArchived),
		zap.Int64("tickets_deleted", result.TicketsDeleted),
		zap.Int("batches", result.Batches))
	return result, nil
}

// ArchivedTicket returns the archived snapshot of a deleted ticket. Archive
// reads are admin-only, like runs.
func (e *Engine) ArchivedTicket(ctx context.Context, credential, ticketID string) (models.ArchivedTicket, error) {
	if err := e.authorizer.Authorize(ctx, credential); err != nil {
		return models.ArchivedTicket{}, err
	}
	return e.tickets.GetArchivedTicket(ctx, ticketID)
}
