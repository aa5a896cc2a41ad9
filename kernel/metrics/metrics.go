package metrics

import (
	"net/http"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostctl"

// Metrics groups the controller's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests         *prometheus.CounterVec
	dispatchAttempts *prometheus.CounterVec
	polls            *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	pending          *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_requests_total",
			Help:      "Operation intents by admission result.",
		}, []string{"resource", "operation", "result"}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Endpoint attempts by role and transport result.",
		}, []string{"resource", "operation", "role", "result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Status queries by result.",
		}, []string{"resource", "result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_resolutions_total",
			Help:      "Pending operations resolved, by outcome.",
		}, []string{"resource", "operation", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Committed state transitions by destination state.",
		}, []string{"resource", "to", "cause"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operations",
			Help:      "1 while a resource has an operation in flight.",
		}, []string{"resource"}),
	}

	m.Registry.MustRegister(
		m.requests,
		m.dispatchAttempts,
		m.polls,
		m.resolutions,
		m.transitions,
		m.pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(resource string, op model.OperationKind, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(resource, string(op), result).Inc()
}

func (m *Metrics) DispatchAttempt(resource string, op model.OperationKind, role model.Role, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatchAttempts.WithLabelValues(resource, string(op), string(role), result).Inc()
}

func (m *Metrics) Poll(resource string, result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) Resolved(resource string, op model.OperationKind, outcome model.Cause) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(resource, string(op), string(outcome)).Inc()
	m.pending.WithLabelValues(resource).Set(0)
}

func (m *Metrics) Pending(resource string) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(resource).Set(1)
}

func (m *Metrics) Transition(t model.Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(t.ResourceId, string(t.To), string(t.Cause)).Inc()
}
