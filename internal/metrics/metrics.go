// Package metrics holds the prometheus collectors shared by the api and
// worker binaries. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventsphere"

type Metrics struct {
	registry *prometheus.Registry

	gateDecisions  *prometheus.CounterVec
	gateStageTime  *prometheus.HistogramVec
	quotaDegraded  prometheus.Counter
	jobsEnqueued   *prometheus.CounterVec
	jobsProcessed  *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	fanOutItems    *prometheus.CounterVec
	recurringItems *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload_gate",
			Name:      "decisions_total",
			Help:      "Upload gate stage outcomes.",
		}, []string{"stage", "outcome"}),
		gateStageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload_gate",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each upload gate stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		quotaDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload_quota",
			Name:      "store_errors_total",
			Help:      "Counter store errors that let an upload through unchecked.",
		}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Jobs handed to the transport.",
		}, []string{"type"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Jobs processed by final status.",
		}, []string{"type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Handler run time including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		fanOutItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "fanout_items_total",
			Help:      "Per-recipient items produced by fan-out handlers.",
		}, []string{"type", "status"}),
		recurringItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recurring",
			Name:      "parents_total",
			Help:      "Recurring sweep results per parent event.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.gateDecisions,
		m.gateStageTime,
		m.quotaDegraded,
		m.jobsEnqueued,
		m.jobsProcessed,
		m.jobDuration,
		m.fanOutItems,
		m.recurringItems,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) GateStage(stage, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(stage, outcome).Inc()
	m.gateStageTime.WithLabelValues(stage).Observe(took.Seconds())
}

func (m *Metrics) QuotaDegraded() {
	if m == nil {
		return
	}
	m.quotaDegraded.Inc()
}

func (m *Metrics) JobEnqueued(jobType string) {
	if m == nil {
		return
	}
	m.jobsEnqueued.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobProcessed(jobType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, status).Inc()
	if took > 0 {
		m.jobDuration.WithLabelValues(jobType).Observe(took.Seconds())
	}
}

func (m *Metrics) FanOutItems(jobType string, ok, failed int) {
	if m == nil {
		return
	}
	m.fanOutItems.WithLabelValues(jobType, "ok").Add(float64(ok))
	m.fanOutItems.WithLabelValues(jobType, "failed").Add(float64(failed))
}

func (m *Metrics) RecurringResult(result string) {
	if m == nil {
		return
	}
	m.recurringItems.WithLabelValues(result).Inc()
}
