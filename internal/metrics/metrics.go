package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
type Metrics struct {
	TicketTransitions    *prometheus.CounterVec
	RetentionRuns        *prometheus.CounterVec
	TicketsArchived      prometheus.Counter
	TicketsDeleted       prometheus.Counter
	NotificationsDeleted *prometheus.CounterVec
	RetentionRunDuration prometheus.Histogram
	OrganizationFailures prometheus.Counter
	HTTPRequests         *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	gatherer             prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TicketTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qms_ticket_transitions_total",
				Help: "Ticket status transitions applied by the ledger",
			},
			[]string{"to"},
		),
		RetentionRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qms_retention_runs_total",
				Help: "Retention runs by outcome",
			},
			[]string{"outcome"},
		),
		TicketsArchived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qms_retention_tickets_archived_total",
				Help: "Tickets copied into the archive",
			},
		),
		TicketsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qms_retention_tickets_deleted_total",
				Help: "Terminal tickets deleted from the live table",
			},
		),
		NotificationsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qms_retention_notification_logs_deleted_total",
				Help: "Notification log rows deleted by delivery outcome",
			},
			[]string{"outcome"},
		),
		RetentionRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qms_retention_run_duration_seconds",
				Help:    "Wall-clock duration of retention runs",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		OrganizationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qms_retention_organization_errors_total",
				Help: "Organizations whose cleanup recorded at least one error",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qms_http_requests_total",
				Help: "HTTP requests by route and status class",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qms_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.TicketTransitions,
		m.RetentionRuns,
		m.TicketsArchived,
		m.TicketsDeleted,
		m.NotificationsDeleted,
		m.RetentionRunDuration,
		m.OrganizationFailures,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)
	return m
}

// NewDefault registers on a fresh registry that also exports Go runtime and
// process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return New(reg)
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.TicketTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveTransitions(to string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TicketTransitions.WithLabelValues(to).Add(float64(n))
}

func (m *Metrics) ObserveRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RetentionRuns.WithLabelValues(outcome).Inc()
	m.RetentionRunDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveOrganization(archived, deleted, successLogs, failedLogs int64, failed bool) {
	if m == nil {
		return
	}
	m.TicketsArchived.Add(float64(archived))
	m.TicketsDeleted.Add(float64(deleted))
	m.NotificationsDeleted.WithLabelValues("success").Add(float64(successLogs))
	m.NotificationsDeleted.WithLabelValues("failed").Add(float64(failedLogs))
	if failed {
		m.OrganizationFailures.Inc()
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
