package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	referralsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referrals_created_total",
			Help: "Total number of referrals created",
		},
		[]string{"source"},
	)

	referralStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_status_changed_total",
			Help: "Total number of referral status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	eligibilityVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_verdicts_total",
			Help: "Total number of eligibility creation verdicts",
		},
		[]string{"verdict"},
	)

	dischargesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discharges_submitted_total",
			Help: "Total number of discharge notifications submitted",
		},
		[]string{"source", "result"},
	)

	dischargeUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discharge_updates_total",
			Help: "Total number of discharge update results processed",
		},
		[]string{"document_status", "resulting_status"},
	)

	docExchangeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docexchange_requests_total",
			Help: "Total number of document-exchange requests",
		},
		[]string{"endpoint", "status"},
	)

	docExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docexchange_request_duration_seconds",
			Help:    "Document-exchange request duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordReferralCreated records a referral creation
func RecordReferralCreated(source string) {
	referralsCreated.WithLabelValues(source).Inc()
}

// RecordStatusChange records a referral status transition
func RecordStatusChange(fromStatus, toStatus string) {
	referralStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordEligibilityVerdict records an eligibility creation verdict
func RecordEligibilityVerdict(verdict string) {
	eligibilityVerdicts.WithLabelValues(verdict).Inc()
}

// RecordDischargeSubmitted records a discharge submission result
func RecordDischargeSubmitted(source, result string) {
	dischargesSubmitted.WithLabelValues(source, result).Inc()
}

// RecordDischargeUpdate records a discharge update outcome
func RecordDischargeUpdate(documentStatus, resultingStatus string) {
	dischargeUpdates.WithLabelValues(documentStatus, resultingStatus).Inc()
}

// RecordDocExchangeRequest records a document-exchange call
func RecordDocExchangeRequest(endpoint, status string, duration time.Duration) {
	docExchangeRequests.WithLabelValues(endpoint, status).Inc()
	docExchangeDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
