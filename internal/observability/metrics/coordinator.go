package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CoordinatorMetrics records upload, analysis, bulk and API client outcomes.
type CoordinatorMetrics struct {
	registry *prometheus.Registry
	service  string

	uploadTotal      *prometheus.CounterVec
	uploadBytes      prometheus.Counter
	analysisTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	bulkItemsTotal   *prometheus.CounterVec
	apiRequestsTotal *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	apiRetriesTotal  *prometheus.CounterVec
}

func NewCoordinatorMetrics(service string) *CoordinatorMetrics {
	registry := prometheus.NewRegistry()

	uploadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casefile",
			Subsystem: "upload",
			Name:      "items_total",
			Help:      "Upload queue items finished by status.",
		},
		[]string{"service", "status"},
	)
	uploadBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "casefile",
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes of successfully uploaded files.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	analysisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casefile",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analysis runs by action and outcome.",
		},
		[]string{"service", "action", "status"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casefile",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis request duration in seconds by outcome.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	bulkItemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casefile",
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk operation items by verb and outcome.",
		},
		[]string{"service", "verb", "status"},
	)
	apiRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casefile",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Document API requests by operation and HTTP status.",
		},
		[]string{"service", "operation", "status"},
	)
	apiDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casefile",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Document API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)
	apiRetriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casefile",
			Subsystem: "api",
			Name:      "retries_total",
			Help:      "Retried document API attempts by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		uploadTotal,
		uploadBytes,
		analysisTotal,
		analysisDuration,
		bulkItemsTotal,
		apiRequestsTotal,
		apiDuration,
		apiRetriesTotal,
	)

	return &CoordinatorMetrics{
		registry:         registry,
		service:          service,
		uploadTotal:      uploadTotal,
		uploadBytes:      uploadBytes,
		analysisTotal:    analysisTotal,
		analysisDuration: analysisDuration,
		bulkItemsTotal:   bulkItemsTotal,
		apiRequestsTotal: apiRequestsTotal,
		apiDuration:      apiDuration,
		apiRetriesTotal:  apiRetriesTotal,
	}
}

func (m *CoordinatorMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *CoordinatorMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *CoordinatorMetrics) ObserveUpload(status string, bytes int64) {
	m.uploadTotal.WithLabelValues(m.service, status).Inc()
	if status == "success" && bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
}

func (m *CoordinatorMetrics) ObserveAnalysis(action, status string, elapsed time.Duration) {
	m.analysisTotal.WithLabelValues(m.service, action, status).Inc()
	m.analysisDuration.WithLabelValues(m.service, status).Observe(elapsed.Seconds())
}

func (m *CoordinatorMetrics) ObserveBulkItem(verb, status string) {
	m.bulkItemsTotal.WithLabelValues(m.service, verb, status).Inc()
}

// ObserveRequest records one HTTP attempt; status 0 means a transport error.
func (m *CoordinatorMetrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.apiRequestsTotal.WithLabelValues(m.service, operation, label).Inc()
	m.apiDuration.WithLabelValues(m.service, operation).Observe(elapsed.Seconds())
}

func (m *CoordinatorMetrics) ObserveRetry(operation string, _ int) {
	m.apiRetriesTotal.WithLabelValues(m.service, operation).Inc()
}
