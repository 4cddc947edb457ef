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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contestpulse_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	adapterFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_adapter_fetch_total",
			Help: "Adapter fetches by platform and result",
		},
		[]string{"platform", "result"},
	)

	adapterContests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_adapter_contests_total",
			Help: "Contests returned by each adapter after window filtering",
		},
		[]string{"platform"},
	)

	adapterFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contestpulse_adapter_fetch_duration_seconds",
			Help:    "Adapter fetch latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 15},
		},
		[]string{"platform"},
	)

	upserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_upserts_total",
			Help: "Contest upserts by result",
		},
		[]string{"result"},
	)

	swept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestpulse_swept_total",
			Help: "Stored contests moved to a newer status by the sweep",
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_notifications_total",
			Help: "Notification sends by result and channel",
		},
		[]string{"result", "channel"},
	)

	notificationsDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestpulse_notifications_deduped_total",
			Help: "Threshold crossings skipped because they already fired",
		},
	)

	remindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestpulse_reminders_sent_total",
			Help: "User reminders delivered",
		},
	)

	passesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_pass_skipped_total",
			Help: "Scheduled passes skipped because the previous one was still running",
		},
		[]string{"job"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contestpulse_circuit_breaker_state",
			Help: "Circuit breaker state per sink (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestpulse_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAdapterFetch records the outcome of one adapter call.
func RecordAdapterFetch(platform string, count int, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	adapterFetches.WithLabelValues(platform, result).Inc()
	adapterContests.WithLabelValues(platform).Add(float64(count))
	adapterFetchDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordUpsert records one contest upsert result ("ok", "error" or "invalid").
func RecordUpsert(result string) {
	upserts.WithLabelValues(result).Inc()
}

// RecordSwept records how many contests a sweep touched.
func RecordSwept(n int64) {
	swept.Add(float64(n))
}

// RecordNotification records a send attempt ("sent", "error" or "invalid").
func RecordNotification(result, channel string) {
	notifications.WithLabelValues(result, channel).Inc()
}

// RecordNotificationDeduped records a crossing that was already delivered.
func RecordNotificationDeduped() {
	notificationsDeduped.Inc()
}

// RecordReminderSent records a delivered user reminder.
func RecordReminderSent() {
	remindersSent.Inc()
}

// RecordPassSkipped records an overlapping trigger that was dropped.
func RecordPassSkipped(job string) {
	passesSkipped.WithLabelValues(job).Inc()
}

// SetBreakerState publishes the state of a sink's circuit breaker.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
