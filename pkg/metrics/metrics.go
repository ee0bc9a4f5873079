package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection pool occupancy
	ReaderPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfss_reader_pool_in_use",
			Help: "Number of reader cursors currently checked out",
		},
	)

	ReaderPoolCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lfss_reader_pool_capacity",
			Help: "Configured reader pool size",
		},
	)

	WriterLockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lfss_writer_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the single writer cursor",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Quota and permission outcomes
	QuotaExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfss_quota_exceeded_total",
			Help: "Total number of writes rejected for exceeding a user's quota",
		},
		[]string{"owner"},
	)

	PermissionDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfss_permission_denied_total",
			Help: "Total number of operations rejected by the permission engine",
		},
		[]string{"op"},
	)

	// Dedup and blob lifecycle
	DedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lfss_dedup_hits_total",
			Help: "Total number of copy operations that incremented a dedup counter instead of writing a new blob",
		},
	)

	ExternalBlobsOrphanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lfss_external_blobs_orphaned_total",
			Help: "Total number of external blob files unlinked after a failed or rolled-back write",
		},
	)

	// HTTP/WebDAV surface
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lfss_requests_total",
			Help: "Total number of requests by method and status class",
		},
		[]string{"method", "status_class"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lfss_request_duration_seconds",
			Help:    "Request latency by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ReaderPoolInUse,
		ReaderPoolCapacity,
		WriterLockWaitSeconds,
		QuotaExceededTotal,
		PermissionDeniedTotal,
		DedupHitsTotal,
		ExternalBlobsOrphanedTotal,
		RequestsTotal,
		RequestDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
