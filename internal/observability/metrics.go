package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/acqctl/internal/signal"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acqctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acqctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	detectorOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acqctl",
			Subsystem: "detector",
			Name:      "operations_total",
			Help:      "Detector stage, trigger, and unstage operations.",
		},
		[]string{"detector", "op", "success"},
	)
	detectorOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acqctl",
			Subsystem: "detector",
			Name:      "operation_duration_seconds",
			Help:      "Detector operation duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"detector", "op"},
	)
	runDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acqctl",
			Subsystem: "run",
			Name:      "documents_total",
			Help:      "Run documents emitted by plans.",
		},
		[]string{"name"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, detectorOps, detectorOpDuration, runDocuments, signal.TimeoutCollector())
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDocument(name string) {
	RegisterMetrics()
	runDocuments.WithLabelValues(name).Inc()
}

// DetectorMetrics records detector operations as prometheus series.
type DetectorMetrics struct{}

func (DetectorMetrics) ObserveDetectorOp(detector, op string, elapsed time.Duration, err error) {
	RegisterMetrics()
	detectorOps.WithLabelValues(detector, op, strconv.FormatBool(err == nil)).Inc()
	detectorOpDuration.WithLabelValues(detector, op).Observe(elapsed.Seconds())
}
