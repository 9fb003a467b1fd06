// ABOUTME: Prometheus collectors for the chat gateway
// ABOUTME: Uses a private registry so tests and multiple servers never collide

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the gateway updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	assistantCalls    *prometheus.CounterVec
	actions           *prometheus.CounterVec
	messagesPersisted *prometheus.CounterVec
	uploadedBytes     prometheus.Counter
	idempotentReplays prometheus.Counter
	rateLimited       prometheus.Counter
}

// New creates and registers the collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_gateway_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"route"}),
		assistantCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_outbound_calls_total",
			Help: "Calls to the assistant, escalation and handoff services by outcome.",
		}, []string{"endpoint", "outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_cta_total",
			Help: "Assistant replies by call-to-action kind.",
		}, []string{"kind"}),
		messagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_gateway_messages_persisted_total",
			Help: "Messages written to the store by role.",
		}, []string{"role"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_gateway_uploaded_bytes_total",
			Help: "Attachment bytes written to blob storage.",
		}),
		idempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_gateway_idempotent_replays_total",
			Help: "Responses replayed from the idempotency cache.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_gateway_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.assistantCalls,
		m.actions,
		m.messagesPersisted,
		m.uploadedBytes,
		m.idempotentReplays,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request
func (m *Metrics) ObserveRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// OutboundCall records a call to an external service; outcome is "ok" or "error"
func (m *Metrics) OutboundCall(endpoint string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.assistantCalls.WithLabelValues(endpoint, outcome).Inc()
}

// Action records the call-to-action kind of a reply
func (m *Metrics) Action(kind string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind).Inc()
}

// MessagePersisted records a stored message
func (m *Metrics) MessagePersisted(role string) {
	if m == nil {
		return
	}
	m.messagesPersisted.WithLabelValues(role).Inc()
}

// Uploaded records attachment bytes written
func (m *Metrics) Uploaded(n int64) {
	if m == nil {
		return
	}
	m.uploadedBytes.Add(float64(n))
}

// IdempotentReplay records a replayed response
func (m *Metrics) IdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplays.Inc()
}

// RateLimited records a rejected request
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
