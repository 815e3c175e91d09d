package models

import (
	"testing"
	"time"
)

func TestArchivedTicketRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	called := created.Add(5 * time.Minute)
	completed := called.Add(3 * time.Minute)
	ticket := Ticket{
		TicketID:      "ticket-1",
		DepartmentID:  "dept-1",
		TicketNumber:  "A001",
		Status:        StatusCompleted,
		CustomerPhone: "+15551230000",
		CreatedAt:     created,
		CalledAt:      &called,
		CompletedAt:   &completed,
		UpdatedAt:     completed,
	}

	archived := NewArchivedTicket(ticket, completed.Add(time.Hour))
	if archived.OriginalTicketID != ticket.TicketID {
		t.Fatalf("expected original id %s, got %s", ticket.TicketID, archived.OriginalTicketID)
	}
	restored := archived.Ticket()
	if restored.TicketID != ticket.TicketID || restored.TicketNumber != ticket.TicketNumber ||
		restored.Status != ticket.Status || restored.CustomerPhone != ticket.CustomerPhone ||
		!restored.CreatedAt.Equal(ticket.CreatedAt) || !restored.UpdatedAt.Equal(ticket.UpdatedAt) ||
		!restored.CalledAt.Equal(*ticket.CalledAt) || !restored.CompletedAt.Equal(*ticket.CompletedAt) ||
		restored.DepartmentID != ticket.DepartmentID {
		t.Fatalf("restored ticket differs: %+v vs %+v", restored, ticket)
	}
}

func TestIsTerminal(t *testing.T) {
	cases := map[string]bool{
		StatusWaiting:   false,
		StatusServing:   false,
		StatusCompleted: true,
		StatusCancelled: true,
	}
	for status, want := range cases {
		if got := IsTerminal(status); got != want {
			t.Fatalf("IsTerminal(%q)=%v, want %v", status, got, want)
		}
	}
}
