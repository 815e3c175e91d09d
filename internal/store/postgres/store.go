package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = "ticket_id, department_id, ticket_number, status, customer_phone, created_at, called_at, completed_at, updated_at"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) WithinDepartment(ctx context.Context, departmentID string, fn func(ctx context.Context, q store.DepartmentQueries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSettings(ctx, tx, departmentID); err != nil {
		return err
	}
	if err = fn(ctx, &departmentQueries{tx: tx, departmentID: departmentID}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, departmentID string, statuses []string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE department_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC, ticket_seq ASC
	`, departmentID, statuses)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) GetSettings(ctx context.Context, departmentID string) (models.QueueSettings, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT department_id, current_serving, last_ticket_number, updated_at
		FROM queue_settings
		WHERE department_id = $1
	`, departmentID)
	settings, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueSettings{}, false, nil
		}
		return models.QueueSettings{}, false, err
	}
	return settings, true, nil
}

func lockSettings(ctx context.Context, tx pgx.Tx, departmentID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_settings (department_id, last_ticket_number, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (department_id) DO NOTHING
	`, departmentID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		SELECT 1
		FROM queue_settings
		WHERE department_id = $1
		FOR UPDATE
	`, departmentID)
	return err
}

type departmentQueries struct {
	tx           pgx.Tx
	departmentID string
}

func (q *departmentQueries) Settings(ctx context.Context) (models.QueueSettings, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT department_id, current_serving, last_ticket_number, updated_at
		FROM queue_settings
		WHERE department_id = $1
	`, q.departmentID)
	return scanSettings(row)
}

func (q *departmentQueries) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	row := q.tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, department_id, ticket_number, status, customer_phone, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+ticketColumns,
		ticket.TicketID, q.departmentID, ticket.TicketNumber, ticket.Status, ticket.CustomerPhone, ticket.CreatedAt, ticket.UpdatedAt)
	return scanTicket(row)
}

func (q *departmentQueries) OldestWaiting(ctx context.Context) (models.Ticket, bool, error) {
	return q.first(ctx, models.StatusWaiting)
}

func (q *departmentQueries) Serving(ctx context.Context) (models.Ticket, bool, error) {
	return q.first(ctx, models.StatusServing)
}

func (q *departmentQueries) first(ctx context.Context, status string) (models.Ticket, bool, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE department_id = $1 AND status = $2
		ORDER BY created_at ASC, ticket_seq ASC
		LIMIT 1
		FOR UPDATE
	`, q.departmentID, status)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (q *departmentQueries) Transition(ctx context.Context, input store.TransitionInput) (models.Ticket, bool, error) {
	if !store.ValidTransition(input.FromStatus, input.ToStatus) {
		return models.Ticket{}, false, store.ErrInvalidTransition
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	updateQuery := `
		UPDATE tickets
		SET status = $1, updated_at = $2`
	if column := timestampColumn(input.ToStatus); column != "" {
		updateQuery += fmt.Sprintf(", %s = $2", column)
	}
	updateQuery += `
		WHERE ticket_id = $3 AND department_id = $4 AND status = $5
		RETURNING ` + ticketColumns

	row := q.tx.QueryRow(ctx, updateQuery, input.ToStatus, occurredAt, input.TicketID, q.departmentID, input.FromStatus)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (q *departmentQueries) CancelActive(ctx context.Context, at time.Time) (int64, error) {
	tag, err := q.tx.Exec(ctx, `
		UPDATE tickets
		SET status = 'cancelled', updated_at = $2
		WHERE department_id = $1 AND status IN ('waiting', 'serving')
	`, q.departmentID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *departmentQueries) SetCurrentServing(ctx context.Context, ticketNumber *string) error {
	return q.project(ctx, `
		UPDATE queue_settings
		SET current_serving = $2, updated_at = now()
		WHERE department_id = $1
	`, q.departmentID, ticketNumber)
}

func (q *departmentQueries) SetLastTicketNumber(ctx context.Context, value int64) error {
	return q.project(ctx, `
		UPDATE queue_settings
		SET last_ticket_number = $2, updated_at = now()
		WHERE department_id = $1
	`, q.departmentID, value)
}

// project runs a settings write under a savepoint so a failure does not abort
// the enclosing transaction.
func (q *departmentQueries) project(ctx context.Context, query string, args ...interface{}) error {
	sp, err := q.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := sp.Exec(ctx, query, args...); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func timestampColumn(status string) string {
	switch status {
	case models.StatusServing:
		return "called_at"
	case models.StatusCompleted:
		return "completed_at"
	default:
		return ""
	}
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAtNull sql.NullTime
	var completedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.DepartmentID, &ticket.TicketNumber, &ticket.Status, &ticket.CustomerPhone, &ticket.CreatedAt, &calledAtNull, &completedAtNull, &ticket.UpdatedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.CompletedAt = nullTimePtr(completedAtNull)
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func scanSettings(row pgx.Row) (models.QueueSettings, error) {
	var settings models.QueueSettings
	var currentNull sql.NullString
	if err := row.Scan(&settings.DepartmentID, &currentNull, &settings.LastTicketNumber, &settings.UpdatedAt); err != nil {
		return models.QueueSettings{}, err
	}
	settings.CurrentServing = nullStringPtr(currentNull)
	return settings, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
