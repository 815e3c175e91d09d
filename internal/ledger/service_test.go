package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/retention"
	"qms/queue-service/internal/store"
	"qms/queue-service/internal/store/memory"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	st.AddOrganization(models.Organization{OrganizationID: "org-1", Name: "City Hall"})
	st.AddDepartment(models.Department{DepartmentID: "dept-1", OrganizationID: "org-1", Name: "Permits", TicketPrefix: "A"})
	st.AddDepartment(models.Department{DepartmentID: "dept-2", OrganizationID: "org-1", Name: "Licenses", TicketPrefix: "L"})

	c := &clock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	engine := retention.New(st, st, st, retention.Options{Now: c.Now})
	svc := NewService(st, st, Options{Purger: engine, Now: c.Now})
	return svc, st
}

func servingCount(st *memory.Store, departmentID string) int {
	count := 0
	for _, ticket := range st.Tickets(departmentID) {
		if ticket.Status == models.StatusServing {
			count++
		}
	}
	return count
}

func TestJoinThenCall(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	joined, err := svc.Join(ctx, "dept-1", "+15551230000")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Status != models.StatusWaiting || joined.TicketNumber != "A001" {
		t.Fatalf("unexpected joined ticket: %+v", joined)
	}
	if joined.CalledAt != nil || joined.CompletedAt != nil {
		t.Fatalf("new ticket must not carry called/completed timestamps")
	}

	called, ok, err := svc.CallNext(ctx, "dept-1")
	if err != nil || !ok {
		t.Fatalf("call next: ok=%v err=%v", ok, err)
	}
	if called.TicketID != joined.TicketID || called.Status != models.StatusServing || called.CalledAt == nil {
		t.Fatalf("unexpected called ticket: %+v", called)
	}

	view, err := svc.Queue(ctx, "dept-1")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if view.Settings.CurrentServing == nil || *view.Settings.CurrentServing != "A001" || view.Settings.LastTicketNumber != 1 {
		t.Fatalf("unexpected settings: %+v", view.Settings)
	}
	if view.Serving == nil || view.Serving.TicketID != joined.TicketID || len(view.Waiting) != 0 {
		t.Fatalf("unexpected queue view: %+v", view)
	}
}

func TestJoinNumbersPerDepartment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var numbers []string
	for _, dept := range []string{"dept-1", "dept-1", "dept-2", "dept-1"} {
		ticket, err := svc.Join(ctx, dept, "081234567890")
		if err != nil {
			t.Fatalf("join %s: %v", dept, err)
		}
		numbers = append(numbers, ticket.TicketNumber)
	}
	want := []string{"A001", "A002", "L001", "A003"}
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, numbers)
		}
	}
}

func TestJoinValidation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		department string
		phone      string
		want       error
	}{
		{name: "missing department", department: " ", phone: "+15551230000", want: ErrDepartmentRequired},
		{name: "short phone", department: "dept-1", phone: "1234567", want: ErrInvalidPhone},
		{name: "letters", department: "dept-1", phone: "+1555abc0000", want: ErrInvalidPhone},
		{name: "unknown department", department: "dept-9", phone: "+15551230000", want: store.ErrDepartmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Join(ctx, tt.department, tt.phone); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(st.Tickets("dept-1")) != 0 {
		t.Fatalf("rejected joins must not insert")
	}
}

func TestCallNextEmptyQueueIsNoop(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ticket, ok, err := svc.CallNext(ctx, "dept-1")
		if err != nil || ok || ticket.TicketID != "" {
			t.Fatalf("expected none, got ticket=%+v ok=%v err=%v", ticket, ok, err)
		}
	}
	if _, ok, _ := st.GetSettings(ctx, "dept-1"); ok {
		t.Fatalf("empty call must not write settings")
	}
}

func TestCallNextWithOnlyServingLeavesItAlone(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Join(ctx, "dept-1", "+15551230000"); err != nil {
		t.Fatalf("join: %v", err)
	}
	first, _, _ := svc.CallNext(ctx, "dept-1")
	if _, ok, err := svc.CallNext(ctx, "dept-1"); err != nil || ok {
		t.Fatalf("expected none with nobody waiting, got ok=%v err=%v", ok, err)
	}
	current, err := svc.Ticket(ctx, first.TicketID)
	if err != nil || current.Status != models.StatusServing {
		t.Fatalf("serving ticket must stay serving, got %+v err=%v", current, err)
	}
	if servingCount(st, "dept-1") != 1 {
		t.Fatalf("expected one serving ticket")
	}
}

func TestDoubleCallNextAutoCompletes(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Join(ctx, "dept-1", "+15551230001")
	second, _ := svc.Join(ctx, "dept-1", "+15551230002")

	if _, _, err := svc.CallNext(ctx, "dept-1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	called, ok, err := svc.CallNext(ctx, "dept-1")
	if err != nil || !ok || called.TicketID != second.TicketID {
		t.Fatalf("expected second ticket, got %+v ok=%v err=%v", called, ok, err)
	}

	previous, err := svc.Ticket(ctx, first.TicketID)
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if previous.Status != models.StatusCompleted || previous.CompletedAt == nil || previous.CalledAt == nil {
		t.Fatalf("expected first ticket auto-completed, got %+v", previous)
	}
	if servingCount(st, "dept-1") != 1 {
		t.Fatalf("expected exactly one serving ticket")
	}
}

func TestConcurrentCallNextKeepsOneServing(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := svc.Join(ctx, "dept-1", fmt.Sprintf("+1555123%04d", i)); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.CallNext(ctx, "dept-1"); err != nil {
				t.Errorf("call next: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := servingCount(st, "dept-1"); got != 1 {
		t.Fatalf("expected one serving ticket, got %d", got)
	}
	completed := 0
	for _, ticket := range st.Tickets("dept-1") {
		if ticket.Status == models.StatusCompleted {
			completed++
		}
	}
	if completed != 7 {
		t.Fatalf("expected 7 auto-completed tickets, got %d", completed)
	}
}

func TestSkipAndComplete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, ok, err := svc.Skip(ctx, "dept-1"); err != nil || ok {
		t.Fatalf("skip with nothing serving: ok=%v err=%v", ok, err)
	}
	if _, ok, err := svc.Complete(ctx, "dept-1"); err != nil || ok {
		t.Fatalf("complete with nothing serving: ok=%v err=%v", ok, err)
	}

	svc.Join(ctx, "dept-1", "+15551230001")
	svc.Join(ctx, "dept-1", "+15551230002")

	svc.CallNext(ctx, "dept-1")
	skipped, ok, err := svc.Skip(ctx, "dept-1")
	if err != nil || !ok || skipped.Status != models.StatusCancelled || skipped.CompletedAt != nil {
		t.Fatalf("unexpected skip: %+v ok=%v err=%v", skipped, ok, err)
	}
	view, _ := svc.Queue(ctx, "dept-1")
	if view.Settings.CurrentServing != nil {
		t.Fatalf("skip must clear current serving")
	}

	svc.CallNext(ctx, "dept-1")
	done, ok, err := svc.Complete(ctx, "dept-1")
	if err != nil || !ok || done.Status != models.StatusCompleted || done.CompletedAt == nil || done.CalledAt == nil {
		t.Fatalf("unexpected complete: %+v ok=%v err=%v", done, ok, err)
	}
	if _, ok, _ := svc.Complete(ctx, "dept-1"); ok {
		t.Fatalf("second complete must be a no-op")
	}
}

func TestResetWithCleanup(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		ticket, err := svc.Join(ctx, "dept-1", fmt.Sprintf("+1555123000%d", i))
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		ids = append(ids, ticket.TicketID)
	}
	for i := 0; i < 3; i++ {
		svc.CallNext(ctx, "dept-1")
	}
	svc.Complete(ctx, "dept-1")
	other, _ := svc.Join(ctx, "dept-2", "+15551239999")

	result, err := svc.Reset(ctx, "dept-1", true)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if result.Cancelled != 1 || result.Purge == nil || result.Purge.TicketsDeleted != 4 || result.Purge.TicketsArchived != 4 {
		t.Fatalf("unexpected reset result: %+v purge=%+v", result, result.Purge)
	}
	if left := st.Tickets("dept-1"); len(left) != 0 {
		t.Fatalf("expected no live tickets, got %+v", left)
	}

	var archived []string
	for _, a := range st.Archived() {
		archived = append(archived, a.OriginalTicketID)
	}
	sort.Strings(ids)
	if fmt.Sprint(archived) != fmt.Sprint(ids) {
		t.Fatalf("expected archive %v, got %v", ids, archived)
	}
	if _, err := svc.Ticket(ctx, other.TicketID); err != nil {
		t.Fatalf("other department must be untouched: %v", err)
	}

	again, err := svc.Join(ctx, "dept-1", "+15551230000")
	if err != nil || again.TicketNumber != "A001" {
		t.Fatalf("numbering should restart, got %+v err=%v", again, err)
	}
}

func TestResetWithoutCleanupKeepsHistory(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	svc.Join(ctx, "dept-1", "+15551230001")
	svc.Join(ctx, "dept-1", "+15551230002")
	svc.CallNext(ctx, "dept-1")

	result, err := svc.Reset(ctx, "dept-1", false)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if result.Cancelled != 2 || result.Purge != nil {
		t.Fatalf("unexpected reset result: %+v", result)
	}
	for _, ticket := range st.Tickets("dept-1") {
		if ticket.Status != models.StatusCancelled {
			t.Fatalf("expected every ticket cancelled, got %+v", ticket)
		}
	}
	if len(st.Archived()) != 0 {
		t.Fatalf("reset without cleanup must not archive")
	}
	view, _ := svc.Queue(ctx, "dept-1")
	if view.Settings.CurrentServing != nil || view.Settings.LastTicketNumber != 0 {
		t.Fatalf("expected settings reset, got %+v", view.Settings)
	}
}

func TestResetCleanupRequiresPurger(t *testing.T) {
	st := memory.NewStore()
	st.AddDepartment(models.Department{DepartmentID: "dept-1", TicketPrefix: "A"})
	svc := NewService(st, st, Options{})
	if _, err := svc.Reset(context.Background(), "dept-1", true); !errors.Is(err, ErrCleanupUnavailable) {
		t.Fatalf("expected ErrCleanupUnavailable, got %v", err)
	}
}

type brokenCounter struct {
	*memory.Store
}

func (b brokenCounter) WithinDepartment(ctx context.Context, departmentID string, fn func(ctx context.Context, q store.DepartmentQueries) error) error {
	return b.Store.WithinDepartment(ctx, departmentID, func(ctx context.Context, q store.DepartmentQueries) error {
		return fn(ctx, brokenCounterQueries{q})
	})
}

type brokenCounterQueries struct {
	store.DepartmentQueries
}

func (brokenCounterQueries) SetLastTicketNumber(context.Context, int64) error {
	return errors.New("queue_settings is read-only")
}

func TestJoinToleratesCounterFailure(t *testing.T) {
	st := memory.NewStore()
	st.AddDepartment(models.Department{DepartmentID: "dept-1", TicketPrefix: "A"})
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(brokenCounter{st}, st, Options{Logger: zap.New(core)})

	ticket, err := svc.Join(context.Background(), "dept-1", "+15551230000")
	if err != nil {
		t.Fatalf("join should tolerate counter failure: %v", err)
	}
	if len(st.Tickets("dept-1")) != 1 || ticket.TicketNumber != "A001" {
		t.Fatalf("expected the ticket inserted, got %+v", st.Tickets("dept-1"))
	}
	if logs.FilterMessage("ticket counter update failed").Len() != 1 {
		t.Fatalf("expected the counter failure logged, got %v", logs.All())
	}
}

func TestTicketLookup(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Ticket(context.Background(), ""); !errors.Is(err, ErrTicketRequired) {
		t.Fatalf("expected ErrTicketRequired, got %v", err)
	}
	if _, err := svc.Ticket(context.Background(), "missing"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}
