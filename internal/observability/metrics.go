package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classnets",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "classnets",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
	scalarReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classnets",
			Subsystem: "scalars",
			Name:      "reads_total",
			Help:      "Event-file scalar reads served by the board.",
		},
		[]string{"app", "run", "success"},
	)
	scalarReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "classnets",
			Subsystem: "scalars",
			Name:      "read_duration_seconds",
			Help:      "Event-file scalar read duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "run", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, scalarReads, scalarReadDuration)
	})
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordScalarRead(app, run string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	scalarReads.WithLabelValues(app, run, successLabel).Inc()
	scalarReadDuration.WithLabelValues(app, run, successLabel).Observe(duration.Seconds())
}
