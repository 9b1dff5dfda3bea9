package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the receiver's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	WebhookRequestsTotal      *prometheus.CounterVec
	VerificationFailuresTotal *prometheus.CounterVec
	DispatchedTotal           *prometheus.CounterVec
	DispatchDroppedTotal      prometheus.Counter
	Subscribers               prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WebhookRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_pulse_webhook_requests_total",
				Help: "Webhook requests by event kind and response status",
			},
			[]string{"kind", "status"},
		),
		VerificationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_pulse_verification_failures_total",
				Help: "Signature verification failures by internal reason",
			},
			[]string{"reason"},
		),
		DispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_pulse_dispatched_total",
				Help: "Verified events handed to subscribers, by event type",
			},
			[]string{"event"},
		),
		DispatchDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hook_pulse_dispatch_dropped_total",
				Help: "Verified events dropped because the broadcast buffer was full",
			},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hook_pulse_subscribers",
				Help: "Connected WebSocket subscribers",
			},
		),
	}

	m.registry.MustRegister(
		m.WebhookRequestsTotal,
		m.VerificationFailuresTotal,
		m.DispatchedTotal,
		m.DispatchDroppedTotal,
		m.Subscribers,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
