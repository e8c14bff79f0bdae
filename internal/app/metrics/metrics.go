package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "appforge",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appforge",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of completion requests sent to the model provider.",
		},
		[]string{"provider", "status"},
	)

	llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appforge",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of completion requests.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		},
		[]string{"provider"},
	)

	dataOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appforge",
			Subsystem: "data",
			Name:      "operations_total",
			Help:      "Total number of dynamic table operations.",
		},
		[]string{"operation", "status"},
	)

	dataOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appforge",
			Subsystem: "data",
			Name:      "operation_duration_seconds",
			Help:      "Duration of dynamic table operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	modulesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "appforge",
			Subsystem: "modules",
			Name:      "total",
			Help:      "Number of modules currently defined.",
		},
	)

	conversationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "appforge",
			Subsystem: "conversations",
			Name:      "total",
			Help:      "Number of conversations currently stored.",
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "appforge",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Current number of open websocket connections.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		llmRequests,
		llmDuration,
		dataOperations,
		dataOperationDuration,
		modulesTotal,
		conversationsTotal,
		wsConnections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks one more HTTP request in progress.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight marks one HTTP request finished.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLLMRequest records one completion call to the model provider.
func RecordLLMRequest(provider string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	llmRequests.WithLabelValues(provider, status).Inc()
	llmDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordDataOperation records one dynamic table operation.
func RecordDataOperation(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	dataOperations.WithLabelValues(operation, status).Inc()
	dataOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetModulesTotal updates the module count gauge.
func SetModulesTotal(n int) { modulesTotal.Set(float64(n)) }

// SetConversationsTotal updates the conversation count gauge.
func SetConversationsTotal(n int) { conversationsTotal.Set(float64(n)) }

// IncrementWSConnections marks one more open websocket.
func IncrementWSConnections() { wsConnections.Inc() }

// DecrementWSConnections marks one websocket closed.
func DecrementWSConnections() { wsConnections.Dec() }
