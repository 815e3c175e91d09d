package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
	"qms/queue-service/internal/retention"
	"qms/queue-service/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DepartmentResolver interface {
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
}

// Purger removes every terminal ticket of a department, archiving first.
type Purger interface {
	PurgeDepartment(ctx context.Context, departmentID string) (retention.PurgeResult, error)
}

type Options struct {
	Purger  Purger
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	NewID   func() string
}

// Service owns ticket state. Every mutation runs inside the department scope
// and moves tickets only along the legal transition table.
type Service struct {
	tickets     store.TicketStore
	departments DepartmentResolver
	purger      Purger
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string
}

type ResetResult struct {
	DepartmentID string                 `json:"department_id"`
	Cancelled    int64                  `json:"cancelled"`
	Purge        *retention.PurgeResult `json:"purge,omitempty"`
}

type QueueView struct {
	Settings models.QueueSettings `json:"settings"`
	Serving  *models.Ticket       `json:"serving,omitempty"`
	Waiting  []models.Ticket      `json:"waiting"`
}

func NewService(tickets store.TicketStore, departments DepartmentResolver, options Options) *Service {
	s := &Service{
		tickets:     tickets,
		departments: departments,
		purger:      options.Purger,
		logger:      options.Logger,
		metrics:     options.Metrics,
		now:         options.Now,
		newID:       options.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

func (s *Service) Join(ctx context.Context, departmentID, customerPhone string) (models.Ticket, error) {
	customerPhone = strings.TrimSpace(customerPhone)
	dept, err := s.resolve(ctx, departmentID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ValidPhone(customerPhone) {
		return models.Ticket{}, ErrInvalidPhone
	}

	var ticket models.Ticket
	err = s.tickets.WithinDepartment(ctx, dept.DepartmentID, func(ctx context.Context, q store.DepartmentQueries) error {
		settings, err := q.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load queue settings: %w", err)
		}
		next := settings.LastTicketNumber + 1
		now := s.now()
		ticket, err = q.InsertTicket(ctx, models.Ticket{
			TicketID:      s.newID(),
			DepartmentID:  dept.DepartmentID,
			TicketNumber:  FormatTicketNumber(dept.TicketPrefix, next),
			Status:        models.StatusWaiting,
			CustomerPhone: customerPhone,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if err := q.SetLastTicketNumber(ctx, next); err != nil {
			s.logger.Warn("ticket counter update failed",
				zap.String("department_id", dept.DepartmentID),
				zap.Int64("last_ticket_number", next),
				zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	s.metrics.ObserveTransition(models.StatusWaiting)
	s.logger.Info("ticket joined",
		zap.String("department_id", ticket.DepartmentID),
		zap.String("ticket_id", ticket.TicketID),
		zap.String("ticket_number", ticket.TicketNumber))
	return ticket, nil
}

// CallNext serves the oldest waiting ticket. A ticket still being served is
// completed first. An empty queue returns false and changes nothing.
func (s *Service) CallNext(ctx context.Context, departmentID string) (models.Ticket, bool, error) {
	dept, err := s.resolve(ctx, departmentID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	var called models.Ticket
	var found bool
	var autoCompleted bool
	err = s.tickets.WithinDepartment(ctx, dept.DepartmentID, func(ctx context.Context, q store.DepartmentQueries) error {
		next, ok, err := q.OldestWaiting(ctx)
		if err != nil {
			return fmt.Errorf("select next ticket: %w", err)
		}
		if !ok {
			return nil
		}
		now := s.now()

		current, ok, err := q.Serving(ctx)
		if err != nil {
			return fmt.Errorf("select serving ticket: %w", err)
		}
		if ok {
			_, autoCompleted, err = q.Transition(ctx, store.TransitionInput{
				TicketID:   current.TicketID,
				FromStatus: models.StatusServing,
				ToStatus:   models.StatusCompleted,
				OccurredAt: now,
			})
			if err != nil {
				return fmt.Errorf("complete serving ticket: %w", err)
			}
		}

		called, found, err = q.Transition(ctx, store.TransitionInput{
			TicketID:   next.TicketID,
			FromStatus: models.StatusWaiting,
			ToStatus:   models.StatusServing,
			OccurredAt: now,
		})
		if err != nil {
			return fmt.Errorf("serve ticket: %w", err)
		}
		if !found {
			return nil
		}
		s.project(ctx, q, dept.DepartmentID, &called.TicketNumber)
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if autoCompleted {
		s.metrics.ObserveTransition(models.StatusCompleted)
	}
	if found {
		s.metrics.ObserveTransition(models.StatusServing)
		s.logger.Info("ticket called",
			zap.String("department_id", dept.DepartmentID),
			zap.String("ticket_number", called.TicketNumber),
			zap.Bool("auto_completed_previous", autoCompleted))
	}
	return called, found, nil
}

// Skip cancels the ticket being served, if any.
func (s *Service) Skip(ctx context.Context, departmentID string) (models.Ticket, bool, error) {
	return s.finishServing(ctx, departmentID, models.StatusCancelled)
}

// Complete finishes the ticket being served, if any.
func (s *Service) Complete(ctx context.Context, departmentID string) (models.Ticket, bool, error) {
	return s.finishServing(ctx, departmentID, models.StatusCompleted)
}

func (s *Service) finishServing(ctx context.Context, departmentID, toStatus string) (models.Ticket, bool, error) {
	dept, err := s.resolve(ctx, departmentID)
	if err != nil {
		return models.Ticket{}, false, err
	}

	var ticket models.Ticket
	var found bool
	err = s.tickets.WithinDepartment(ctx, dept.DepartmentID, func(ctx context.Context, q store.DepartmentQueries) error {
		current, ok, err := q.Serving(ctx)
		if err != nil {
			return fmt.Errorf("select serving ticket: %w", err)
		}
		if !ok {
			return nil
		}
		ticket, found, err = q.Transition(ctx, store.TransitionInput{
			TicketID:   current.TicketID,
			FromStatus: models.StatusServing,
			ToStatus:   toStatus,
			OccurredAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("move serving ticket to %s: %w", toStatus, err)
		}
		if found {
			s.project(ctx, q, dept.DepartmentID, nil)
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		s.metrics.ObserveTransition(toStatus)
	}
	return ticket, found, nil
}

// Reset cancels every live ticket and restarts numbering. With cleanup the
// department's terminal tickets are archived and deleted afterwards.
func (s *Service) Reset(ctx context.Context, departmentID string, includeCleanup bool) (ResetResult, error) {
	dept, err := s.resolve(ctx, departmentID)
	if err != nil {
		return ResetResult{}, err
	}
	if includeCleanup && s.purger == nil {
		return ResetResult{}, ErrCleanupUnavailable
	}

	result := ResetResult{DepartmentID: dept.DepartmentID}
	err = s.tickets.WithinDepartment(ctx, dept.DepartmentID, func(ctx context.Context, q store.DepartmentQueries) error {
		cancelled, err := q.CancelActive(ctx, s.now())
		if err != nil {
			return fmt.Errorf("cancel live tickets: %w", err)
		}
		result.Cancelled = cancelled
		s.project(ctx, q, dept.DepartmentID, nil)
		if err := q.SetLastTicketNumber(ctx, 0); err != nil {
			s.logger.Warn("ticket counter reset failed",
				zap.String("department_id", dept.DepartmentID),
				zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return ResetResult{}, err
	}
	s.metrics.ObserveTransitions(models.StatusCancelled, result.Cancelled)
	s.logger.Info("queue reset",
		zap.String("department_id", dept.DepartmentID),
		zap.Int64("cancelled", result.Cancelled),
		zap.Bool("include_cleanup", includeCleanup))

	if !includeCleanup {
		return result, nil
	}
	purge, err := s.purger.PurgeDepartment(ctx, dept.DepartmentID)
	result.Purge = &purge
	if err != nil {
		return result, fmt.Errorf("purge department: %w", err)
	}
	return result, nil
}

func (s *Service) Queue(ctx context.Context, departmentID string) (QueueView, error) {
	dept, err := s.resolve(ctx, departmentID)
	if err != nil {
		return QueueView{}, err
	}
	settings, ok, err := s.tickets.GetSettings(ctx, dept.DepartmentID)
	if err != nil {
		return QueueView{}, fmt.Errorf("load queue settings: %w", err)
	}
	if !ok {
		settings = models.QueueSettings{DepartmentID: dept.DepartmentID}
	}
	live, err := s.tickets.ListTickets(ctx, dept.DepartmentID, models.ActiveStatuses)
	if err != nil {
		return QueueView{}, fmt.Errorf("list live tickets: %w", err)
	}

	view := QueueView{Settings: settings, Waiting: []models.Ticket{}}
	for i := range live {
		if live[i].Status == models.StatusServing {
			serving := live[i]
			view.Serving = &serving
			continue
		}
		view.Waiting = append(view.Waiting, live[i])
	}
	return view, nil
}

func (s *Service) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return models.Ticket{}, ErrTicketRequired
	}
	return s.tickets.GetTicket(ctx, ticketID)
}

func (s *Service) resolve(ctx context.Context, departmentID string) (models.Department, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return models.Department{}, ErrDepartmentRequired
	}
	dept, err := s.departments.GetDepartment(ctx, departmentID)
	if err != nil {
		return models.Department{}, err
	}
	return dept, nil
}

// project writes current_serving. It is a cached view of the tickets table,
// so a failure is logged and the transition still stands.
func (s *Service) project(ctx context.Context, q store.DepartmentQueries, departmentID string, ticketNumber *string) {
	if err := q.SetCurrentServing(ctx, ticketNumber); err != nil {
		s.logger.Warn("current serving update failed",
			zap.String("department_id", departmentID),
			zap.Error(err))
	}
}
