package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qms/queue-service/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 2, DepartmentPerMinute: 1000, DepartmentBurst: 1000})
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client must have its own bucket, got %d", rec.Code)
	}
}

func TestRateLimiterPerDepartmentKeepsBody(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, DepartmentPerMinute: 1, DepartmentBurst: 1})
	var bodies []string
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		w.WriteHeader(http.StatusOK)
	}))

	send := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/queues/actions/call-next", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(`{"department_id":"dept-1"}`); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := send(`{"department_id":"dept-1"}`); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
	if code := send(`{"department_id":"dept-2"}`); code != http.StatusOK {
		t.Fatalf("other department: expected 200, got %d", code)
	}
	if len(bodies) != 2 || bodies[0] != `{"department_id":"dept-1"}` {
		t.Fatalf("body must reach the handler intact, got %v", bodies)
	}
}

func TestRateLimiterPassesLargeBodyThrough(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, DepartmentPerMinute: 1000, DepartmentBurst: 1000})
	var got int
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got = len(body)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"department_id":"dept-1","note":"` + strings.Repeat("x", maxBodyBytes+512) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got != len(body) {
		t.Fatalf("handler saw %d bytes, want %d", got, len(body))
	}
}

func TestKeyedLimiterDropsIdleKeys(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(1, 1)
	l.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		l.allow(fmt.Sprintf("10.0.0.%d", i))
	}
	if l.size() != 100 {
		t.Fatalf("expected 100 buckets, got %d", l.size())
	}
	if l.allow("10.0.0.7") {
		t.Fatalf("bucket for an active key must be kept")
	}

	now = now.Add(limiterIdleTTL / 2)
	l.allow("10.0.0.7")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.allow("10.0.0.200")
	if size := l.size(); size != 2 {
		t.Fatalf("idle buckets must be dropped, %d left", size)
	}
}

func TestLoggingMiddlewareRecordsRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())
	h := LoggingMiddleware(zap.New(core), m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("request id must be assigned before the handler runs")
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tickets/abc", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("response must echo a request id")
	}
	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusNotFound) || fields["route"] != "/api/tickets/{id}" {
		t.Fatalf("unexpected log fields %v", fields)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/tickets/{id}", "4xx")); got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}
}

func TestLoggingMiddlewareKeepsCallerRequestID(t *testing.T) {
	h := LoggingMiddleware(zap.NewNop(), nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected caller request id echoed, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/api/tickets":                  "/api/tickets",
		"/api/tickets/123":              "/api/tickets/{id}",
		"/api/admin/archive/123":        "/api/admin/archive/{id}",
		"/api/queues/actions/call-next": "/api/queues/actions/call-next",
		"/wp-login.php":                 "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
