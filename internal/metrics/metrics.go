// Package metrics defines the Prometheus collectors exported by the service.
// Collectors live on a private registry so tests can create isolated sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lead_qualifier"

// Webhook request results.
const (
	ResultAccepted    = "accepted"
	ResultIgnored     = "ignored"
	ResultForbidden   = "forbidden"
	ResultMalformed   = "malformed"
	ResultUnavailable = "unavailable"
)

// Metrics is the set of collectors shared by the service components.
type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests       *prometheus.CounterVec
	UnknownSessionReplies prometheus.Counter
	MessagesSent          *prometheus.CounterVec
	QueueDepth            prometheus.Gauge
	DeadLetters           prometheus.Counter
	QualificationsDone    prometheus.Counter
	MissingSignature      prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"result"}),
		UnknownSessionReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_session_replies_total",
			Help:      "Inbound replies dropped because no session exists for the sender.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound provider messages by envelope kind and result.",
		}, []string{"kind", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Jobs waiting in the dispatcher queues.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dead_letters_total",
			Help:      "Jobs abandoned after exhausting their attempts.",
		}),
		QualificationsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualifications_completed_total",
			Help:      "Qualification flows that reached completion.",
		}),
		MissingSignature: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_signature_total",
			Help:      "Webhook deliveries received without a signature header.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WebhookRequests,
		m.UnknownSessionReplies,
		m.MessagesSent,
		m.QueueDepth,
		m.DeadLetters,
		m.QualificationsDone,
		m.MissingSignature,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
