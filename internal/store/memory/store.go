package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
)

// Store keeps every collection in process memory. Department scopes are
// serialized with a per-department mutex; writes inside a scope are applied
// immediately and are not rolled back when the scope returns an error.
type Store struct {
	mu            sync.Mutex
	scopeMu       sync.Mutex
	scopes        map[string]*sync.Mutex
	organizations map[string]models.Organization
	orgOrder      []string
	departments   map[string]models.Department
	settings      map[string]models.QueueSettings
	tickets       map[string]ticketRow
	archived      map[string]models.ArchivedTicket
	logs          map[string]models.NotificationLog
	seq           int64
}

type ticketRow struct {
	ticket models.Ticket
	seq    int64
}

func NewStore() *Store {
	return &Store{
		scopes:        map[string]*sync.Mutex{},
		organizations: map[string]models.Organization{},
		departments:   map[string]models.Department{},
		settings:      map[string]models.QueueSettings{},
		tickets:       map[string]ticketRow{},
		archived:      map[string]models.ArchivedTicket{},
		logs:          map[string]models.NotificationLog{},
	}
}

func (s *Store) AddOrganization(org models.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.organizations[org.OrganizationID]; !ok {
		s.orgOrder = append(s.orgOrder, org.OrganizationID)
	}
	s.organizations[org.OrganizationID] = org
}

func (s *Store) AddDepartment(dept models.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[dept.DepartmentID] = dept
}

// PutTicket stores a ticket as-is, bypassing the ledger.
func (s *Store) PutTicket(ticket models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(ticket)
}

func (s *Store) AddNotificationLog(log models.NotificationLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.LogID] = log
}

func (s *Store) Tickets(departmentID string) []models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(func(t models.Ticket) bool { return t.DepartmentID == departmentID })
}

func (s *Store) Archived() []models.ArchivedTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ArchivedTicket, 0, len(s.archived))
	for _, a := range s.archived {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalTicketID < out[j].OriginalTicketID })
	return out
}

func (s *Store) NotificationLogs(organizationID string) []models.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationLog
	for _, l := range s.logs {
		if l.OrganizationID == organizationID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogID < out[j].LogID })
	return out
}

func (s *Store) WithinDepartment(ctx context.Context, departmentID string, fn func(ctx context.Context, q store.DepartmentQueries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scope := s.scope(departmentID)
	scope.Lock()
	defer scope.Unlock()
	return fn(ctx, &departmentQueries{store: s, departmentID: departmentID})
}

func (s *Store) scope(departmentID string) *sync.Mutex {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	m, ok := s.scopes[departmentID]
	if !ok {
		m = &sync.Mutex{}
		s.scopes[departmentID] = m
	}
	return m
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return cloneTicket(row.ticket), nil
}

func (s *Store) ListTickets(ctx context.Context, departmentID string, statuses []string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(func(t models.Ticket) bool {
		return t.DepartmentID == departmentID && contains(statuses, t.Status)
	}), nil
}

func (s *Store) GetSettings(ctx context.Context, departmentID string) (models.QueueSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[departmentID]
	return cloneSettings(settings), ok, nil
}

func (s *Store) SelectExpiredTickets(ctx context.Context, selection store.TicketSelection) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filterLocked(func(t models.Ticket) bool {
		if !models.IsTerminal(t.Status) || !contains(selection.DepartmentIDs, t.DepartmentID) {
			return false
		}
		return selection.UpdatedBefore.IsZero() || t.UpdatedAt.Before(selection.UpdatedBefore)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if selection.Limit > 0 && len(out) > selection.Limit {
		out = out[:selection.Limit]
	}
	return out, nil
}

func (s *Store) ArchiveTickets(ctx context.Context, tickets []models.ArchivedTicket) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, a := range tickets {
		if _, ok := s.archived[a.OriginalTicketID]; ok {
			continue
		}
		s.archived[a.OriginalTicketID] = a
		inserted++
	}
	return inserted, nil
}

func (s *Store) DeleteTickets(ctx context.Context, ticketIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, id := range ticketIDs {
		row, ok := s.tickets[id]
		if !ok || !models.IsTerminal(row.ticket.Status) {
			continue
		}
		delete(s.tickets, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) GetArchivedTicket(ctx context.Context, originalTicketID string) (models.ArchivedTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.archived[originalTicketID]
	if !ok {
		return models.ArchivedTicket{}, store.ErrArchivedNotFound
	}
	return a, nil
}

func (s *Store) CountLogs(ctx context.Context, filter store.LogFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, l := range s.logs {
		if logMatches(l, filter) {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteLogs(ctx context.Context, filter store.LogFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, l := range s.logs {
		if logMatches(l, filter) {
			delete(s.logs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) ListOrganizations(ctx context.Context, organizationID string) ([]models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if organizationID != "" {
		org, ok := s.organizations[organizationID]
		if !ok {
			return nil, store.ErrOrganizationNotFound
		}
		return []models.Organization{org}, nil
	}
	out := make([]models.Organization, 0, len(s.orgOrder))
	for _, id := range s.orgOrder {
		out = append(out, s.organizations[id])
	}
	return out, nil
}

func (s *Store) ListDepartments(ctx context.Context, organizationID string) ([]models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Department
	for _, d := range s.departments {
		if d.OrganizationID == organizationID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartmentID < out[j].DepartmentID })
	return out, nil
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.departments[departmentID]
	if !ok {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	return d, nil
}

func (s *Store) putLocked(ticket models.Ticket) {
	row, ok := s.tickets[ticket.TicketID]
	if !ok {
		s.seq++
		row.seq = s.seq
	}
	row.ticket = cloneTicket(ticket)
	s.tickets[ticket.TicketID] = row
}

// filterLocked returns matching tickets in insertion order.
func (s *Store) filterLocked(match func(models.Ticket) bool) []models.Ticket {
	rows := make([]ticketRow, 0)
	for _, row := range s.tickets {
		if match(row.ticket) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneTicket(row.ticket))
	}
	return out
}

type departmentQueries struct {
	store        *Store
	departmentID string
}

func (q *departmentQueries) Settings(ctx context.Context) (models.QueueSettings, error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[q.departmentID]
	if !ok {
		settings = models.QueueSettings{DepartmentID: q.departmentID, UpdatedAt: time.Now().UTC()}
		s.settings[q.departmentID] = settings
	}
	return cloneSettings(settings), nil
}

func (q *departmentQueries) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket.DepartmentID = q.departmentID
	s.putLocked(ticket)
	return cloneTicket(ticket), nil
}

func (q *departmentQueries) OldestWaiting(ctx context.Context) (models.Ticket, bool, error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting := s.filterLocked(func(t models.Ticket) bool {
		return t.DepartmentID == q.departmentID && t.Status == models.StatusWaiting
	})
	if len(waiting) == 0 {
		return models.Ticket{}, false, nil
	}
	sort.SliceStable(waiting, func(i, j int) bool { return waiting[i].CreatedAt.Before(waiting[j].CreatedAt) })
	return waiting[0], true, nil
}

func (q *departmentQueries) Serving(ctx context.Context) (models.Ticket, bool, error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	serving := s.filterLocked(func(t models.Ticket) bool {
		return t.DepartmentID == q.departmentID && t.Status == models.StatusServing
	})
	if len(serving) == 0 {
		return models.Ticket{}, false, nil
	}
	return serving[0], true, nil
}

func (q *departmentQueries) Transition(ctx context.Context, input store.TransitionInput) (models.Ticket, bool, error) {
	if !store.ValidTransition(input.FromStatus, input.ToStatus) {
		return models.Ticket{}, false, store.ErrInvalidTransition
	}
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tickets[input.TicketID]
	if !ok || row.ticket.DepartmentID != q.departmentID || row.ticket.Status != input.FromStatus {
		return models.Ticket{}, false, nil
	}
	ticket := applyTransition(row.ticket, input.ToStatus, input.OccurredAt)
	s.putLocked(ticket)
	return cloneTicket(ticket), true, nil
}

func (q *departmentQueries) CancelActive(ctx context.Context, at time.Time) (int64, error) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.tickets {
		t := row.ticket
		if t.DepartmentID != q.departmentID || !contains(models.ActiveStatuses, t.Status) {
			continue
		}
		s.putLocked(applyTransition(t, models.StatusCancelled, at))
		count++
	}
	return count, nil
}

func (q *departmentQueries) SetCurrentServing(ctx context.Context, ticketNumber *string) error {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings[q.departmentID]
	settings.DepartmentID = q.departmentID
	settings.CurrentServing = cloneString(ticketNumber)
	settings.UpdatedAt = time.Now().UTC()
	s.settings[q.departmentID] = settings
	return nil
}

func (q *departmentQueries) SetLastTicketNumber(ctx context.Context, value int64) error {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings[q.departmentID]
	settings.DepartmentID = q.departmentID
	settings.LastTicketNumber = value
	settings.UpdatedAt = time.Now().UTC()
	s.settings[q.departmentID] = settings
	return nil
}

func applyTransition(ticket models.Ticket, toStatus string, at time.Time) models.Ticket {
	ticket.Status = toStatus
	ticket.UpdatedAt = at
	switch toStatus {
	case models.StatusServing:
		calledAt := at
		ticket.CalledAt = &calledAt
	case models.StatusCompleted:
		completedAt := at
		ticket.CompletedAt = &completedAt
	}
	return ticket
}

func logMatches(l models.NotificationLog, filter store.LogFilter) bool {
	return l.OrganizationID == filter.OrganizationID &&
		l.Outcome == filter.Outcome &&
		l.CreatedAt.Before(filter.CreatedBefore)
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}

func cloneTicket(t models.Ticket) models.Ticket {
	t.CalledAt = cloneTime(t.CalledAt)
	t.CompletedAt = cloneTime(t.CompletedAt)
	return t
}

func cloneSettings(s models.QueueSettings) models.QueueSettings {
	s.CurrentServing = cloneString(s.CurrentServing)
	return s
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
