// Package metrics holds the Prometheus collectors for the rental engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	gatewayAttempts *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	discrepancies   *prometheus.CounterVec
	lateRentals     *prometheus.CounterVec
	events          *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_gateway_attempts_total",
			Help: "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rental_gateway_call_seconds",
			Help:    "Latency of single payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_job_runs_total",
			Help: "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rental_job_duration_seconds",
			Help:    "Duration of scheduled job runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_reconciliation_discrepancies_total",
			Help: "Reconciliation discrepancies by kind.",
		}, []string{"kind"}),
		lateRentals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_late_detections_total",
			Help: "Late-return status changes seen by the detector.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_events_total",
			Help: "Domain events handed to the sink by type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(m.gatewayAttempts, m.gatewayLatency, m.jobRuns, m.jobDuration,
		m.discrepancies, m.lateRentals, m.events)
	return m
}

func (m *Metrics) GatewayAttempt(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) JobRun(job string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *Metrics) Discrepancy(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.discrepancies.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) LateStatusChange(status string) {
	if m == nil {
		return
	}
	m.lateRentals.WithLabelValues(status).Inc()
}

func (m *Metrics) Event(eventType string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	m.events.WithLabelValues(eventType, result).Inc()
}
