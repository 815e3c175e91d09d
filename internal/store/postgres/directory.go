package postgres

import (
	"context"
	"errors"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) ListOrganizations(ctx context.Context, organizationID string) ([]models.Organization, error) {
	query := `
		SELECT organization_id, name
		FROM organizations
	`
	args := []interface{}{}
	if organizationID != "" {
		query += " WHERE organization_id = $1"
		args = append(args, organizationID)
	}
	query += " ORDER BY created_at ASC, organization_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.OrganizationID, &org.Name); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if organizationID != "" && len(orgs) == 0 {
		return nil, store.ErrOrganizationNotFound
	}
	return orgs, nil
}

func (s *Store) ListDepartments(ctx context.Context, organizationID string) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT department_id, organization_id, name, ticket_prefix
		FROM departments
		WHERE organization_id = $1
		ORDER BY department_id ASC
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var departments []models.Department
	for rows.Next() {
		var dept models.Department
		if err := rows.Scan(&dept.DepartmentID, &dept.OrganizationID, &dept.Name, &dept.TicketPrefix); err != nil {
			return nil, err
		}
		departments = append(departments, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	var dept models.Department
	row := s.pool.QueryRow(ctx, `
		SELECT department_id, organization_id, name, ticket_prefix
		FROM departments
		WHERE department_id = $1
	`, departmentID)
	if err := row.Scan(&dept.DepartmentID, &dept.OrganizationID, &dept.Name, &dept.TicketPrefix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return dept, nil
}
