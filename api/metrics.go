package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike   AlertType = "login_failure_spike"
	AlertRefreshFailureSpike AlertType = "refresh_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow      = 1 * time.Minute
	defaultLoginFailureThreshold   = 50
	defaultRefreshFailureWindow    = 5 * time.Minute
	defaultRefreshFailureThreshold = 20
)

// spikeWindow counts events in a sliding window and reports when the
// threshold is reached.
type spikeWindow struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

func (s *spikeWindow) add(now time.Time) (count int, fired bool) {
	s.events = trimWindow(append(s.events, now), now, s.window)
	count = len(s.events)
	if count < s.threshold {
		return count, false
	}
	// Reset to avoid repeated alerts within the same spike.
	s.events = s.events[:0]
	return count, true
}

// metricsCollector exports audit counters to Prometheus and raises alerts on
// bursts of failed logins or refreshes.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures   spikeWindow
	refreshFailures spikeWindow

	alertFn AlertFunc
	now     func() time.Time

	auditEvents *prometheus.CounterVec
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

func newMetricsCollector(reg prometheus.Registerer, alertFn AlertFunc) *metricsCollector {
	f := promauto.With(reg)
	return &metricsCollector{
		loginFailures:   spikeWindow{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		refreshFailures: spikeWindow{window: defaultRefreshFailureWindow, threshold: defaultRefreshFailureThreshold},
		alertFn:         alertFn,
		now:             time.Now,
		auditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "api",
			Name:      "audit_events_total",
			Help:      "Audit events by type.",
		}, []string{"event"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// recordEvent counts an audit event and updates the anomaly windows.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(string(event)).Inc()
	if m.alertFn == nil {
		return
	}

	switch event {
	case AuditLoginFailure:
		m.observe(&m.loginFailures, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditRefreshFailure, AuditRefreshReuse:
		m.observe(&m.refreshFailures, AlertRefreshFailureSpike, "refresh failure rate exceeds threshold")
	}
}

func (m *metricsCollector) observe(w *spikeWindow, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	count, fired := w.add(now)
	m.mu.Unlock()

	if fired {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     count,
			Threshold: w.threshold,
			Timestamp: now,
		})
	}
}

// instrument records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func (m *metricsCollector) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
