package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be persisted.",
	})
)

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authAttempts, auditWriteFailures)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts an authentication attempt. operation is register or login.
func ObserveAuth(operation, outcome string) {
	authAttempts.WithLabelValues(operation, outcome).Inc()
}

// AuditWriteFailed counts an audit entry dropped by the store.
func AuditWriteFailed() {
	auditWriteFailures.Inc()
}

// Instrument measures request counts, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// UnmatchedPath labels requests for paths the API does not serve.
const UnmatchedPath = "unmatched"

const resourceItemPrefix = "/api/admin/resources/"

var knownPaths = map[string]struct{}{
	"/healthz":                 {},
	"/readyz":                  {},
	"/metrics":                 {},
	"/api/auth/register":       {},
	"/api/auth/login":          {},
	"/api/auth/logout":         {},
	"/api/auth/me":             {},
	"/api/auth/activity":       {},
	"/api/resources":           {},
	"/api/users":               {},
	"/api/admin/audit-logs":    {},
	"/api/admin/resources":     {},
	"/api/admin/users":         {},
	"/api/admin/grant-access":  {},
	"/api/admin/revoke-access": {},
}

// CanonicalPath maps a request path onto a bounded label set: known routes
// keep their path, resource ids collapse to :id and everything else is
// UnmatchedPath.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if _, ok := knownPaths[raw]; ok {
		return raw
	}
	if rest, ok := strings.CutPrefix(raw, resourceItemPrefix); ok && rest != "" && !strings.Contains(rest, "/") {
		return resourceItemPrefix + ":id"
	}
	return UnmatchedPath
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
