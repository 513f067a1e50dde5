package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the savings service.
type Metrics struct {
	namespace string

	// Application metrics
	AppInfo             *prometheus.GaugeVec
	AppUptimeSeconds    prometheus.Counter
	AppStartTimeSeconds prometheus.Gauge
	AppGoGoroutines     prometheus.Gauge

	// HTTP metrics for the probe/metrics server
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// Health check metrics
	HealthCheckStatus        *prometheus.GaugeVec
	HealthCheckFailuresTotal *prometheus.CounterVec

	// Ledger metrics
	AuditEventsTotal       *prometheus.CounterVec
	LockBoxesCreatedTotal  prometheus.Counter
	LockBoxesReleasedTotal prometheus.Counter
	LockedAmountTotal      prometheus.Counter
	ReleasedAmountTotal    prometheus.Counter
	ScanRunsTotal          *prometheus.CounterVec
	ScanDurationSeconds    prometheus.Histogram
	AccountsTotal          prometheus.Gauge
	ActiveLockBoxes        prometheus.Gauge
	SnapshotSavesTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string, buildInfo map[string]string) *Metrics {
	m := &Metrics{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	m.AppInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_info",
			Help:      "Application build information",
		},
		[]string{"version", "commit", "build_date", "go_version"},
	)

	m.AppUptimeSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)

	m.AppStartTimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_start_time_seconds",
			Help:      "Unix timestamp of process start",
		},
	)

	m.AppGoGoroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_go_goroutines",
			Help:      "Number of goroutines",
		},
	)

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	m.HealthCheckStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_status",
			Help:      "Health check status (1 for healthy, 0 for unhealthy)",
		},
		[]string{"check_name"},
	)

	m.HealthCheckFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_check_failures_total",
			Help:      "Total number of health check failures",
		},
		[]string{"check_name"},
	)

	m.AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Total number of audit events by kind",
		},
		[]string{"kind"},
	)

	m.LockBoxesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockboxes_created_total",
			Help:      "Total number of lock boxes created",
		},
	)

	m.LockBoxesReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockboxes_released_total",
			Help:      "Total number of lock boxes released",
		},
	)

	m.LockedAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locked_amount_total",
			Help:      "Sum of all amounts committed to lock boxes",
		},
	)

	m.ReleasedAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "released_amount_total",
			Help:      "Sum of all amounts credited back on release",
		},
	)

	m.ScanRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_runs_total",
			Help:      "Total number of release scans by trigger",
		},
		[]string{"trigger"},
	)

	m.ScanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of background release scans in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	m.AccountsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Number of registered accounts",
		},
	)

	m.ActiveLockBoxes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_lockboxes",
			Help:      "Number of lock boxes not yet released",
		},
	)

	m.SnapshotSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Total number of snapshot flushes by status",
		},
		[]string{"status"},
	)

	m.register()

	m.AppInfo.WithLabelValues(
		buildInfo["version"],
		buildInfo["commit"],
		buildInfo["date"],
		runtime.Version(),
	).Set(1)

	m.AppStartTimeSeconds.Set(float64(time.Now().Unix()))

	return m
}

// register registers all metrics with the registry.
func (m *Metrics) register() {
	m.registry.MustRegister(
		m.AppInfo,
		m.AppUptimeSeconds,
		m.AppStartTimeSeconds,
		m.AppGoGoroutines,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.HealthCheckStatus,
		m.HealthCheckFailuresTotal,
		m.AuditEventsTotal,
		m.LockBoxesCreatedTotal,
		m.LockBoxesReleasedTotal,
		m.LockedAmountTotal,
		m.ReleasedAmountTotal,
		m.ScanRunsTotal,
		m.ScanDurationSeconds,
		m.AccountsTotal,
		m.ActiveLockBoxes,
		m.SnapshotSavesTotal,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpdateRuntimeMetrics refreshes the goroutine gauge.
func (m *Metrics) UpdateRuntimeMetrics() {
	m.AppGoGoroutines.Set(float64(runtime.NumGoroutine()))
}

// RecordScan records a completed release scan.
func (m *Metrics) RecordScan(trigger string, duration time.Duration) {
	m.ScanRunsTotal.WithLabelValues(trigger).Inc()
	m.ScanDurationSeconds.Observe(duration.Seconds())
}

// RecordSnapshotSave records the outcome of a snapshot flush.
func (m *Metrics) RecordSnapshotSave(err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.SnapshotSavesTotal.WithLabelValues(status).Inc()
}

// SetLedgerGauges updates the account and active lock box gauges.
func (m *Metrics) SetLedgerGauges(accounts, activeLockBoxes int) {
	m.AccountsTotal.Set(float64(accounts))
	m.ActiveLockBoxes.Set(float64(activeLockBoxes))
}
