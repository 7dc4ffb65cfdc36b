package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medremind_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medremind_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	medicinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medremind_medicines_created_total",
		Help: "Count of created medicine records by ownership",
	}, []string{"owned"})

	dosesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medremind_doses_marked_total",
		Help: "Count of time slots marked as taken",
	})

	treatmentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medremind_treatments_completed_total",
		Help: "Count of treatments marked as completed",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveMedicineCreated increments the creation counter, labeled by
// whether the record has an owner.
func ObserveMedicineCreated(owned bool) {
	label := "false"
	if owned {
		label = "true"
	}
	medicinesCreated.WithLabelValues(label).Inc()
}

// ObserveDoseMarked increments the dose counter.
func ObserveDoseMarked() {
	dosesMarked.Inc()
}

// ObserveTreatmentCompleted increments the completion counter.
func ObserveTreatmentCompleted() {
	treatmentsCompleted.Inc()
}
