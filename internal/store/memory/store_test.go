package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
)

func TestTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	st.PutTicket(models.Ticket{TicketID: "t1", DepartmentID: "d1", Status: models.StatusWaiting, CreatedAt: now, UpdatedAt: now})

	err := st.WithinDepartment(ctx, "d1", func(ctx context.Context, q store.DepartmentQueries) error {
		ticket, ok, err := q.Transition(ctx, store.TransitionInput{TicketID: "t1", FromStatus: models.StatusWaiting, ToStatus: models.StatusServing, OccurredAt: now})
		if err != nil || !ok {
			t.Fatalf("first transition: ok=%v err=%v", ok, err)
		}
		if ticket.CalledAt == nil || !ticket.CalledAt.Equal(now) {
			t.Fatalf("expected called_at to be set, got %v", ticket.CalledAt)
		}
		_, ok, err = q.Transition(ctx, store.TransitionInput{TicketID: "t1", FromStatus: models.StatusWaiting, ToStatus: models.StatusServing, OccurredAt: now})
		if err != nil {
			t.Fatalf("second transition: %v", err)
		}
		if ok {
			t.Fatalf("expected stale transition to match nothing")
		}
		_, _, err = q.Transition(ctx, store.TransitionInput{TicketID: "t1", FromStatus: models.StatusWaiting, ToStatus: models.StatusCompleted, OccurredAt: now})
		if !errors.Is(err, store.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
}

func TestDeleteTicketsSkipsActiveRows(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	now := time.Now().UTC()
	st.PutTicket(models.Ticket{TicketID: "live", DepartmentID: "d1", Status: models.StatusWaiting, UpdatedAt: now})
	st.PutTicket(models.Ticket{TicketID: "done", DepartmentID: "d1", Status: models.StatusCompleted, UpdatedAt: now})

	deleted, err := st.DeleteTickets(ctx, []string{"live", "done", "missing"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if got := st.Tickets("d1"); len(got) != 1 || got[0].TicketID != "live" {
		t.Fatalf("expected live ticket to remain, got %+v", got)
	}
}

func TestSelectExpiredTicketsBoundary(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	cutoff := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	st.PutTicket(models.Ticket{TicketID: "at", DepartmentID: "d1", Status: models.StatusCompleted, UpdatedAt: cutoff})
	st.PutTicket(models.Ticket{TicketID: "older", DepartmentID: "d1", Status: models.StatusCancelled, UpdatedAt: cutoff.Add(-time.Microsecond)})
	st.PutTicket(models.Ticket{TicketID: "other", DepartmentID: "d2", Status: models.StatusCompleted, UpdatedAt: cutoff.Add(-time.Hour)})

	tickets, err := st.SelectExpiredTickets(ctx, store.TicketSelection{DepartmentIDs: []string{"d1"}, UpdatedBefore: cutoff})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(tickets) != 1 || tickets[0].TicketID != "older" {
		t.Fatalf("expected only the older ticket, got %+v", tickets)
	}
}

func TestListOrganizationsUnknown(t *testing.T) {
	st := NewStore()
	if _, err := st.ListOrganizations(context.Background(), "nope"); !errors.Is(err, store.ErrOrganizationNotFound) {
		t.Fatalf("expected ErrOrganizationNotFound, got %v", err)
	}
}
