// Package metrics provides Prometheus-based metrics collection for portprobe.
// Scans are short-lived batch runs, so besides the registry the package can
// write a snapshot in the node_exporter textfile format.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all portprobe metrics
	namespace = "portprobe"

	// Subsystems
	subsystemProbe = "probe"
	subsystemScan  = "scan"
	subsystemPool  = "pool"
)

// Pool job statuses.
const (
	JobStatusSuccess = "success"
	JobStatusError   = "error"
	JobStatusPanic   = "panic"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	notScanned   prometheus.Counter
	socketsPeak  prometheus.Gauge

	// Worker pool metrics
	poolInflight prometheus.Gauge
	poolJobs     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: registry,
	}

	pm.initProbeMetrics()
	pm.initScanMetrics()
	pm.initPoolMetrics()

	pm.registerMetrics()

	// Register standard Go collector for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())

	return pm
}

// initProbeMetrics initializes per-probe metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of connect probes by resulting state",
		},
		[]string{"state"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of single connect probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"state"},
	)
}

// initScanMetrics initializes scan-level metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by strategy and status",
		},
		[]string{"strategy", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"strategy"},
	)

	pm.notScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "not_scanned_total",
			Help:      "Targets left unprobed because their scan was canceled",
		},
	)

	pm.socketsPeak = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "sockets_peak",
			Help:      "Highest number of simultaneously open sockets seen in the last scan",
		},
	)
}

// initPoolMetrics initializes worker pool metrics
func (pm *PrometheusMetrics) initPoolMetrics() {
	pm.poolInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemPool,
			Name:      "inflight",
			Help:      "Number of jobs currently executing in worker pools",
		},
	)

	pm.poolJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPool,
			Name:      "jobs_total",
			Help:      "Total number of worker pool jobs by type and status",
		},
		[]string{"job_type", "status"},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.probesTotal)
	pm.registry.MustRegister(pm.probeDuration)

	pm.registry.MustRegister(pm.scansTotal)
	pm.registry.MustRegister(pm.scanDuration)
	pm.registry.MustRegister(pm.notScanned)
	pm.registry.MustRegister(pm.socketsPeak)

	pm.registry.MustRegister(pm.poolInflight)
	pm.registry.MustRegister(pm.poolJobs)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// RecordProbe records the outcome and latency of one connect probe.
func (pm *PrometheusMetrics) RecordProbe(state string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(state).Inc()
	pm.probeDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordScan records a finished scan.
func (pm *PrometheusMetrics) RecordScan(strategy, status string, duration time.Duration) {
	pm.scansTotal.WithLabelValues(strategy, status).Inc()
	pm.scanDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// AddNotScanned counts targets skipped by cancellation.
func (pm *PrometheusMetrics) AddNotScanned(count int) {
	if count > 0 {
		pm.notScanned.Add(float64(count))
	}
}

// SetSocketsPeak records the socket high-water mark of a scan.
func (pm *PrometheusMetrics) SetSocketsPeak(count int) {
	pm.socketsPeak.Set(float64(count))
}

// JobStarted marks a worker pool job as executing.
func (pm *PrometheusMetrics) JobStarted() {
	pm.poolInflight.Inc()
}

// JobFinished marks a worker pool job as done with the given status.
func (pm *PrometheusMetrics) JobFinished(jobType, status string) {
	pm.poolInflight.Dec()
	pm.poolJobs.WithLabelValues(jobType, status).Inc()
}

// WriteTextfile writes the current metric values to path in the Prometheus
// text exposition format, for pickup by a textfile collector.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, pm.registry)
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
