package models

import "time"

type Ticket struct {
	TicketID      string     `json:"ticket_id"`
	DepartmentID  string     `json:"department_id"`
	TicketNumber  string     `json:"ticket_number"`
	Status        string     `json:"status"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// TerminalStatuses are the only statuses the retention engine may delete.
var TerminalStatuses = []string{StatusCompleted, StatusCancelled}

// ActiveStatuses are the statuses the ledger still mutates.
var ActiveStatuses = []string{StatusWaiting, StatusServing}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// QueueSettings holds per-department projections of the tickets table.
// CurrentServing and LastTicketNumber are caches: both can be recomputed from
// tickets, so a failed write to them is logged rather than treated as fatal.
type QueueSettings struct {
	DepartmentID     string    `json:"department_id"`
	CurrentServing   *string   `json:"current_serving,omitempty"`
	LastTicketNumber int64     `json:"last_ticket_number"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ArchivedTicket is the snapshot written right before a ticket row is deleted.
type ArchivedTicket struct {
	OriginalTicketID string     `json:"original_ticket_id"`
	DepartmentID     string     `json:"department_id"`
	TicketNumber     string     `json:"ticket_number"`
	Status           string     `json:"status"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CalledAt         *time.Time `json:"called_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ArchivedAt       time.Time  `json:"archived_at"`
}

func NewArchivedTicket(ticket Ticket, archivedAt time.Time) ArchivedTicket {
	return ArchivedTicket{
		OriginalTicketID: ticket.TicketID,
		DepartmentID:     ticket.DepartmentID,
		TicketNumber:     ticket.TicketNumber,
		Status:           ticket.Status,
		CustomerPhone:    ticket.CustomerPhone,
		CreatedAt:        ticket.CreatedAt,
		CalledAt:         ticket.CalledAt,
		CompletedAt:      ticket.CompletedAt,
		UpdatedAt:        ticket.UpdatedAt,
		ArchivedAt:       archivedAt,
	}
}

// Ticket restores the live shape of an archived row.
func (a ArchivedTicket) Ticket() Ticket {
	return Ticket{
		TicketID:      a.OriginalTicketID,
		DepartmentID:  a.DepartmentID,
		TicketNumber:  a.TicketNumber,
		Status:        a.Status,
		CustomerPhone: a.CustomerPhone,
		CreatedAt:     a.CreatedAt,
		CalledAt:      a.CalledAt,
		CompletedAt:   a.CompletedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
