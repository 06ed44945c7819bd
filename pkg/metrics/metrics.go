// Package metrics holds the Prometheus metrics of a drive instance. Each
// instance registers into its own registry, so several drives can live in
// one process (tests, embedded use).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Index update results.
const (
	IndexOK      = "ok"
	IndexError   = "error"
	IndexSkipped = "skipped"
)

// Metrics holds all Prometheus metrics of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec   // r1drive_http_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // r1drive_http_request_duration_seconds{operation}

	// Transfer metrics
	BytesUploaded   prometheus.Counter // r1drive_bytes_uploaded_total
	BytesDownloaded prometheus.Counter // r1drive_bytes_downloaded_total

	// Index metrics
	IndexUpdates  *prometheus.CounterVec // r1drive_index_updates_total{result}
	IndexInflight prometheus.Gauge       // r1drive_index_updates_inflight
}

// New creates the metrics in a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "r1drive_http_requests_total",
			Help: "Total HTTP requests by operation and status",
		}, []string{"operation", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "r1drive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "r1drive_bytes_uploaded_total",
			Help: "Total file bytes forwarded to the storage gateway",
		}),

		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "r1drive_bytes_downloaded_total",
			Help: "Total file bytes served to clients",
		}),

		IndexUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "r1drive_index_updates_total",
			Help: "File index updates by result",
		}, []string{"result"}),

		IndexInflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "r1drive_index_updates_inflight",
			Help: "File index updates currently running",
		}),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AddUploaded counts bytes sent to the storage gateway.
func (m *Metrics) AddUploaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesUploaded.Add(float64(n))
}

// AddDownloaded counts bytes served to a client.
func (m *Metrics) AddDownloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesDownloaded.Add(float64(n))
}

// IndexUpdate counts one index update with the given result.
func (m *Metrics) IndexUpdate(result string) {
	if m == nil {
		return
	}
	m.IndexUpdates.WithLabelValues(result).Inc()
}

// IndexStarted and IndexFinished track running index updates.
func (m *Metrics) IndexStarted() {
	if m != nil {
		m.IndexInflight.Inc()
	}
}

func (m *Metrics) IndexFinished() {
	if m != nil {
		m.IndexInflight.Dec()
	}
}
