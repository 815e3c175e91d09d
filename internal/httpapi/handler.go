package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"qms/queue-service/internal/auth"
	"qms/queue-service/internal/ledger"
	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
	"qms/queue-service/internal/retention"
	"qms/queue-service/internal/store"

	"go.uber.org/zap"
)

// Ledger is the ticket state machine as seen by the HTTP layer.
type Ledger interface {
	Join(ctx context.Context, departmentID, customerPhone string) (models.Ticket, error)
	CallNext(ctx context.Context, departmentID string) (models.Ticket, bool, error)
	Skip(ctx context.Context, departmentID string) (models.Ticket, bool, error)
	Complete(ctx context.Context, departmentID string) (models.Ticket, bool, error)
	Reset(ctx context.Context, departmentID string, includeCleanup bool) (ledger.ResetResult, error)
	Queue(ctx context.Context, departmentID string) (ledger.QueueView, error)
	Ticket(ctx context.Context, ticketID string) (models.Ticket, error)
}

// Cleaner runs retention on behalf of an admin credential.
type Cleaner interface {
	Run(ctx context.Context, cfg retention.Config, credential string) (retention.Report, error)
	ArchivedTicket(ctx context.Context, credential, ticketID string) (models.ArchivedTicket, error)
}

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ledger  Ledger
	cleaner Cleaner
	health  Pinger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Options struct {
	Health  Pinger
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type joinRequest struct {
	DepartmentID  string `json:"department_id"`
	CustomerPhone string `json:"customer_phone"`
}

type queueActionRequest struct {
	DepartmentID string `json:"department_id"`
}

type resetRequest struct {
	DepartmentID   string `json:"department_id"`
	IncludeCleanup bool   `json:"include_cleanup"`
}

const maxBodyBytes = 1 << 20

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(ledger Ledger, cleaner Cleaner, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ledger:  ledger,
		cleaner: cleaner,
		health:  options.Health,
		metrics: options.Metrics,
		logger:  logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/api/tickets", h.handleJoin)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/queues", h.handleQueue)
	mux.HandleFunc("/api/queues/actions/call-next", h.queueAction(h.ledger.CallNext))
	mux.HandleFunc("/api/queues/actions/skip", h.queueAction(h.ledger.Skip))
	mux.HandleFunc("/api/queues/actions/complete", h.queueAction(h.ledger.Complete))
	mux.HandleFunc("/api/queues/actions/reset", h.handleReset)
	mux.HandleFunc("/api/admin/cleanup", h.handleCleanup)
	mux.HandleFunc("/api/admin/archive/", h.handleArchived)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "unavailable", "storage unreachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req joinRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ticket, err := h.ledger.Join(r.Context(), req.DepartmentID, req.CustomerPhone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ticketID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), "/")
	if ticketID == "" || strings.Contains(ticketID, "/") {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
		return
	}

	ticket, err := h.ledger.Ticket(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	view, err := h.ledger.Queue(r.Context(), r.URL.Query().Get("department_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// queueAction serves call-next, skip and complete. They share a body and
// answer 204 when no ticket was affected.
func (h *Handler) queueAction(action func(ctx context.Context, departmentID string) (models.Ticket, bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req queueActionRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		ticket, ok, err := action(r.Context(), req.DepartmentID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req resetRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.ledger.Reset(r.Context(), req.DepartmentID, req.IncludeCleanup)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := retention.DefaultConfig()
	if !decodeOptionalRequest(w, r, &cfg) {
		return
	}

	report, err := h.cleaner.Run(r.Context(), cfg, bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleArchived(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ticketID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/archive/"), "/")
	if ticketID == "" || strings.Contains(ticketID, "/") {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
		return
	}

	archived, err := h.cleaner.ArchivedTicket(r.Context(), bearerToken(r.Header.Get("Authorization")), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archived)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromRequest(r)),
			zap.Error(err))
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	return decodeBody(w, r, target, false)
}

// decodeOptionalRequest is decodeRequest that also accepts an empty body,
// leaving target untouched.
func decodeOptionalRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	return decodeBody(w, r, target, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}, allowEmpty bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(target)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, requestIDFromRequest(r), http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return false
	}
	writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
	return false
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ledger.ErrDepartmentRequired),
		errors.Is(err, ledger.ErrInvalidPhone),
		errors.Is(err, ledger.ErrTicketRequired):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, retention.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_config", err.Error()
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "department not found"
	case errors.Is(err, store.ErrOrganizationNotFound):
		return http.StatusNotFound, "organization_not_found", "organization not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrArchivedNotFound):
		return http.StatusNotFound, "archived_ticket_not_found", "archived ticket not found"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "admin credential rejected"
	case errors.Is(err, retention.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress", "a retention run is already in progress"
	case errors.Is(err, ledger.ErrCleanupUnavailable):
		return http.StatusServiceUnavailable, "cleanup_unavailable", "reset cleanup is not configured"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "interrupted", "request interrupted"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
