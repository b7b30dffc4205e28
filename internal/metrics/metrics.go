// Package metrics exposes campaign counters as Prometheus metrics.
//
// The package keeps a process-wide instance set via SetGlobal; the
// IncXxx helpers are no-ops until one is installed, so code can record
// metrics unconditionally whether or not the operator enabled the
// metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for mailrun
type Metrics struct {
	// Campaign counters
	CampaignsTotal  prometheus.Counter
	CampaignsActive prometheus.Gauge

	// Job counters
	JobsTotal      *prometheus.CounterVec
	JobErrorsTotal *prometheus.CounterVec

	// SMTP session counters
	ReconnectsTotal prometheus.Counter

	// Delivery timing
	SendDurationSeconds prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrun_campaigns_total",
				Help: "Total number of campaigns started",
			},
		),
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailrun_campaigns_active",
				Help: "Number of campaigns currently running",
			},
		),

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrun_jobs_total",
				Help: "Total number of finished jobs by outcome",
			},
			[]string{"outcome"},
		),
		JobErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrun_job_errors_total",
				Help: "Total number of failed jobs by error kind",
			},
			[]string{"kind"},
		),

		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailrun_reconnects_total",
				Help: "Total number of mid-campaign SMTP reconnects",
			},
		),

		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailrun_send_duration_seconds",
				Help:    "Time spent delivering one message",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.CampaignsTotal,
		m.CampaignsActive,
		m.JobsTotal,
		m.JobErrorsTotal,
		m.ReconnectsTotal,
		m.SendDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCampaigns records a campaign start
func IncCampaigns() {
	m := Global()
	if m != nil {
		m.CampaignsTotal.Inc()
		m.CampaignsActive.Inc()
	}
}

// DecCampaignsActive records a campaign finishing
func DecCampaignsActive() {
	m := Global()
	if m != nil {
		m.CampaignsActive.Dec()
	}
}

// IncJobs increments the finished job counter
func IncJobs(outcome string) {
	m := Global()
	if m != nil {
		m.JobsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncJobErrors increments the failed job counter
func IncJobErrors(kind string) {
	m := Global()
	if m != nil {
		m.JobErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// IncReconnects increments the reconnect counter
func IncReconnects() {
	m := Global()
	if m != nil {
		m.ReconnectsTotal.Inc()
	}
}

// ObserveSendDuration records the delivery time of one message
func ObserveSendDuration(seconds float64) {
	m := Global()
	if m != nil {
		m.SendDurationSeconds.Observe(seconds)
	}
}
