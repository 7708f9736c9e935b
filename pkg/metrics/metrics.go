package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create isolated instances.
// All Observe methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	leads         *prometheus.CounterVec
	jobsFinalized *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	pollDuration  prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialer",
			Name:      "worker_ticks_total",
			Help:      "Worker ticks by outcome.",
		}, []string{"outcome"}),
		leads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialer",
			Name:      "leads_processed_total",
			Help:      "Leads processed by outcome.",
		}, []string{"outcome"}),
		jobsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialer",
			Name:      "jobs_finalized_total",
			Help:      "Jobs reaching a terminal state by status.",
		}, []string{"status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialer",
			Name:      "webhook_events_total",
			Help:      "Webhook events by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dialer",
			Name:      "call_poll_duration_seconds",
			Help:      "Time spent waiting for a call to end.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.leads,
		m.jobsFinalized,
		m.webhookEvents,
		m.pollDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveTick(outcome string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLead(outcome string) {
	if m == nil {
		return
	}
	m.leads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveJobFinalized(status string) {
	if m == nil {
		return
	}
	m.jobsFinalized.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePoll(d time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.Observe(d.Seconds())
}
