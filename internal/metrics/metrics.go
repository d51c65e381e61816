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
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Business logic metrics
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_registrations_total",
			Help: "Total number of registrations by outcome status",
		},
		[]string{"status"},
	)

	cancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_cancellations_total",
			Help: "Total number of cancellations by refund eligibility",
		},
		[]string{"refund"},
	)

	promotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_promotions_total",
			Help: "Total number of waitlist promotions",
		},
	)

	bulkUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_uploads_total",
			Help: "Total number of bulk uploads by outcome",
		},
		[]string{"outcome"},
	)

	bulkRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_rows_total",
			Help: "Total number of bulk upload rows by row outcome",
		},
		[]string{"outcome"},
	)

	approvalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_approval_decisions_total",
			Help: "Total number of bulk approval decisions",
		},
		[]string{"decision"},
	)

	outboxPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_messages_published_total",
			Help: "Total number of outbox messages published",
		},
	)

	outboxDeadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_messages_dead_total",
			Help: "Total number of outbox messages moved to dead status",
		},
	)

	// Dependency health metrics
	dependencyHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dependency_health",
			Help: "Health status of dependencies (1 = healthy, 0 = unhealthy)",
		},
		[]string{"dependency"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordRegistration increments the registration counter for an outcome
func RecordRegistration(status string) {
	registrationsTotal.WithLabelValues(status).Inc()
}

// RecordCancellation increments the cancellation counter
func RecordCancellation(refundEligible bool) {
	refund := "none"
	if refundEligible {
		refund = "eligible"
	}
	cancellationsTotal.WithLabelValues(refund).Inc()
}

// RecordPromotion increments the waitlist promotion counter
func RecordPromotion() {
	promotionsTotal.Inc()
}

// RecordBulkUpload increments the bulk upload counter for an outcome
// ("executed" or "parked")
func RecordBulkUpload(outcome string) {
	bulkUploadsTotal.WithLabelValues(outcome).Inc()
}

// RecordBulkRows adds per-row outcome counts from one upload report
func RecordBulkRows(successful, failed, duplicate int) {
	bulkRowsTotal.WithLabelValues("success").Add(float64(successful))
	bulkRowsTotal.WithLabelValues("failed").Add(float64(failed))
	bulkRowsTotal.WithLabelValues("duplicate").Add(float64(duplicate))
}

// RecordApprovalDecision increments the approval decision counter
func RecordApprovalDecision(decision string) {
	approvalDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordOutboxPublished increments the published outbox message counter
func RecordOutboxPublished() {
	outboxPublishedTotal.Inc()
}

// RecordOutboxDead increments the dead outbox message counter
func RecordOutboxDead() {
	outboxDeadTotal.Inc()
}

// SetDependencyHealth sets the health status of a dependency
func SetDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealth.WithLabelValues(dependency).Set(value)
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
