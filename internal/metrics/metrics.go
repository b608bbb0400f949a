// Package metrics exposes prometheus instrumentation for the resource client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name
const Namespace = "adhocracy_client"

// Metrics tracks transport and transaction activity.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	commits         prometheus.Counter
	backendErrors   *prometheus.CounterVec
}

// New initializes metrics. They are not registered until Register is called.
func New() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "HTTP requests sent to the backend",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Backend round trip latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_size",
			Help:      "Requests per committed transaction",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transactions_committed_total",
			Help:      "Transactions submitted to the batch endpoint",
		}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_errors_total",
			Help:      "Structured error payloads returned by the backend",
		}, []string{"kind"}),
	}
}

// Register registers all collectors with reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.requestDuration,
		m.batchSize,
		m.commits,
		m.backendErrors,
	}
}

// ObserveRequest records one backend round trip. code 0 means the request
// never got a response.
func (m *Metrics) ObserveRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveCommit records a transaction commit of n requests
func (m *Metrics) ObserveCommit(n int) {
	if m == nil {
		return
	}
	m.commits.Inc()
	m.batchSize.Observe(float64(n))
}

// BackendError counts a backend error payload of the given kind
// ("single" or "batch")
func (m *Metrics) BackendError(kind string) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(kind).Inc()
}
