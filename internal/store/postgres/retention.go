package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) SelectExpiredTickets(ctx context.Context, selection store.TicketSelection) ([]models.Ticket, error) {
	if len(selection.DepartmentIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE department_id = ANY($1) AND status IN ('completed', 'cancelled')
	`
	args := []interface{}{selection.DepartmentIDs}
	if !selection.UpdatedBefore.IsZero() {
		args = append(args, selection.UpdatedBefore)
		query += fmt.Sprintf(" AND updated_at < $%d", len(args))
	}
	query += " ORDER BY updated_at ASC, ticket_seq ASC"
	if selection.Limit > 0 {
		args = append(args, selection.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ArchiveTickets(ctx context.Context, tickets []models.ArchivedTicket) (int64, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	batch := &pgx.Batch{}
	for _, a := range tickets {
		batch.Queue(`
			INSERT INTO archived_tickets (
				original_ticket_id, department_id, ticket_number, status, customer_phone,
				created_at, called_at, completed_at, updated_at, archived_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (original_ticket_id) DO NOTHING
		`, a.OriginalTicketID, a.DepartmentID, a.TicketNumber, a.Status, a.CustomerPhone,
			a.CreatedAt, a.CalledAt, a.CompletedAt, a.UpdatedAt, a.ArchivedAt)
	}

	results := tx.SendBatch(ctx, batch)
	var inserted int64
	for range tickets {
		tag, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			err = execErr
			return 0, err
		}
		inserted += tag.RowsAffected()
	}
	if err = results.Close(); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) DeleteTickets(ctx context.Context, ticketIDs []string) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tickets
		WHERE ticket_id = ANY($1) AND status IN ('completed', 'cancelled')
	`, ticketIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetArchivedTicket(ctx context.Context, originalTicketID string) (models.ArchivedTicket, error) {
	var a models.ArchivedTicket
	var calledAtNull sql.NullTime
	var completedAtNull sql.NullTime
	row := s.pool.QueryRow(ctx, `
		SELECT original_ticket_id, department_id, ticket_number, status, customer_phone,
			created_at, called_at, completed_at, updated_at, archived_at
		FROM archived_tickets
		WHERE original_ticket_id = $1
	`, originalTicketID)
	if err := row.Scan(&a.OriginalTicketID, &a.DepartmentID, &a.TicketNumber, &a.Status, &a.CustomerPhone,
		&a.CreatedAt, &calledAtNull, &completedAtNull, &a.UpdatedAt, &a.ArchivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ArchivedTicket{}, store.ErrArchivedNotFound
		}
		return models.ArchivedTicket{}, err
	}
	a.CalledAt = nullTimePtr(calledAtNull)
	a.CompletedAt = nullTimePtr(completedAtNull)
	return a, nil
}
