// Package telemetry wires the daemon's observability: Prometheus metrics
// for run outcomes and trigger activity, and an OTLP trace exporter for
// per-run spans.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can be tested without a
// registry.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	runningAgents    prometheus.Gauge
	scheduledAgents  prometheus.Gauge
	rateLimitSkips   prometheus.Counter
	concurrencySkips prometheus.Counter
	retriesTotal     prometheus.Counter
	webhooksTotal    *prometheus.CounterVec
	triggerFires     *prometheus.CounterVec
}

// InitMetrics registers all collectors on reg. A nil reg uses the default
// registerer.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentd",
				Name:      "runs_total",
				Help:      "Total agent runs by final status",
			},
			[]string{"status", "trigger"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentd",
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of agent runs",
				Buckets:   []float64{.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		runningAgents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentd",
				Name:      "running_agents",
				Help:      "Agents currently executing",
			},
		),
		scheduledAgents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentd",
				Name:      "scheduled_agents",
				Help:      "Agents with an active cron registration",
			},
		),
		rateLimitSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentd",
				Name:      "rate_limit_skips_total",
				Help:      "Fires skipped by the hourly rate limit",
			},
		),
		concurrencySkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentd",
				Name:      "concurrency_skips_total",
				Help:      "Fires skipped because the agent was already running",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentd",
				Name:      "run_retries_total",
				Help:      "Run attempts beyond the first",
			},
		),
		webhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentd",
				Name:      "webhooks_total",
				Help:      "Webhook events received",
			},
			[]string{"source"},
		),
		triggerFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentd",
				Name:      "trigger_fires_total",
				Help:      "Trigger firings by type",
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.runningAgents,
		m.scheduledAgents,
		m.rateLimitSkips,
		m.concurrencySkips,
		m.retriesTotal,
		m.webhooksTotal,
		m.triggerFires,
	)
	return m
}

// RecordRun records one finished run.
func (m *Metrics) RecordRun(status, trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status, trigger).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RunStarted marks an agent as executing.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runningAgents.Inc()
}

// RunFinished marks an agent as done executing.
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.runningAgents.Dec()
}

// SetScheduled records the current number of cron registrations.
func (m *Metrics) SetScheduled(n int) {
	if m == nil {
		return
	}
	m.scheduledAgents.Set(float64(n))
}

// RecordRateLimitSkip counts a fire dropped by the hourly limit.
func (m *Metrics) RecordRateLimitSkip() {
	if m == nil {
		return
	}
	m.rateLimitSkips.Inc()
}

// RecordConcurrencySkip counts a fire dropped by the running-set guard.
func (m *Metrics) RecordConcurrencySkip() {
	if m == nil {
		return
	}
	m.concurrencySkips.Inc()
}

// RecordRetry counts a run attempt beyond the first.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// RecordWebhook counts one received webhook event.
func (m *Metrics) RecordWebhook(source string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(source).Inc()
}

// RecordTriggerFire counts one trigger firing.
func (m *Metrics) RecordTriggerFire(triggerType string) {
	if m == nil {
		return
	}
	m.triggerFires.WithLabelValues(triggerType).Inc()
}
