package postgres

import (
	"context"

	"qms/queue-service/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationLogStore is deliberately a separate type from Store: its only
// table is notification_logs, so cleanup code holding it cannot reach
// notification_preferences.
type NotificationLogStore struct {
	pool *pgxpool.Pool
}

func NewNotificationLogStore(pool *pgxpool.Pool) *NotificationLogStore {
	return &NotificationLogStore{pool: pool}
}

const logPredicate = `
		WHERE organization_id = $1 AND outcome = $2 AND created_at < $3
`

func (s *NotificationLogStore) CountLogs(ctx context.Context, filter store.LogFilter) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM notification_logs`+logPredicate,
		filter.OrganizationID, filter.Outcome, filter.CreatedBefore)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *NotificationLogStore) DeleteLogs(ctx context.Context, filter store.LogFilter) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notification_logs`+logPredicate,
		filter.OrganizationID, filter.Outcome, filter.CreatedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
