package store

import (
	"context"
	"time"

	"qms/queue-service/internal/models"
)

// TicketStore is the storage surface of the ticket ledger.
type TicketStore interface {
	// WithinDepartment runs fn with the department's queue settings locked.
	// Callers on the same department are serialized; fn's writes commit
	// together when it returns nil.
	WithinDepartment(ctx context.Context, departmentID string, fn func(ctx context.Context, q DepartmentQueries) error) error
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, departmentID string, statuses []string) ([]models.Ticket, error)
	GetSettings(ctx context.Context, departmentID string) (models.QueueSettings, bool, error)
}

// DepartmentQueries are the operations available inside a department scope.
type DepartmentQueries interface {
	// Settings returns the department's queue settings, creating them with
	// LastTicketNumber = 0 when absent.
	Settings(ctx context.Context) (models.QueueSettings, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	OldestWaiting(ctx context.Context) (models.Ticket, bool, error)
	Serving(ctx context.Context) (models.Ticket, bool, error)
	// Transition moves a ticket from one status to another only if it is still
	// in the from status. It reports false when no row matched.
	Transition(ctx context.Context, input TransitionInput) (models.Ticket, bool, error)
	CancelActive(ctx context.Context, at time.Time) (int64, error)
	// SetCurrentServing and SetLastTicketNumber update projections. A failure
	// leaves the surrounding scope usable.
	SetCurrentServing(ctx context.Context, ticketNumber *string) error
	SetLastTicketNumber(ctx context.Context, value int64) error
}

type TransitionInput struct {
	TicketID   string
	FromStatus string
	ToStatus   string
	OccurredAt time.Time
}

// TicketSelection is the retention predicate. A zero UpdatedBefore selects
// terminal tickets regardless of age.
type TicketSelection struct {
	DepartmentIDs []string
	UpdatedBefore time.Time
	Limit         int
}

// RetentionStore is the bulk surface used by the retention engine.
type RetentionStore interface {
	SelectExpiredTickets(ctx context.Context, selection TicketSelection) ([]models.Ticket, error)
	ArchiveTickets(ctx context.Context, tickets []models.ArchivedTicket) (int64, error)
	// DeleteTickets removes the given ids, restricted to terminal statuses.
	DeleteTickets(ctx context.Context, ticketIDs []string) (int64, error)
	GetArchivedTicket(ctx context.Context, originalTicketID string) (models.ArchivedTicket, error)
}

type LogFilter struct {
	OrganizationID string
	Outcome        string
	CreatedBefore  time.Time
}

// NotificationLogStore only reaches the delivery history table. Notification
// preferences are not reachable through it.
type NotificationLogStore interface {
	CountLogs(ctx context.Context, filter LogFilter) (int64, error)
	DeleteLogs(ctx context.Context, filter LogFilter) (int64, error)
}

type TenantDirectory interface {
	// ListOrganizations returns every organization, or only organizationID
	// when it is not empty.
	ListOrganizations(ctx context.Context, organizationID string) ([]models.Organization, error)
	ListDepartments(ctx context.Context, organizationID string) ([]models.Department, error)
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
}
