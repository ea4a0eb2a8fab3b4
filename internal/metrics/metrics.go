package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/callx-bridge/internal/call"
)

// ActiveCallProvider exposes the ringing call, if any.
type ActiveCallProvider interface {
	IsActive() bool
}

// ConsumerProvider reports whether a consumer is registered.
type ConsumerProvider interface {
	Registered() bool
}

// Metrics owns a private registry with the bridge's counters and the
// scrape-time gauges. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	payloads  *prometheus.CounterVec
	events    *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	parked    *prometheus.CounterVec
	replayed  *prometheus.CounterVec
	delivered *prometheus.CounterVec
}

// New creates the registry with the counters and runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callx_payloads_total",
			Help: "Inbound push payloads by classification result",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callx_transitions_total",
			Help: "Applied lifecycle transitions by event",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callx_transitions_ignored_total",
			Help: "Transitions dropped as stale or duplicate, by event",
		}, []string{"event"}),
		parked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callx_pending_saved_total",
			Help: "Events parked in the pending store, by event",
		}, []string{"event"}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callx_pending_replayed_total",
			Help: "Pending slots replayed on consumer registration",
		}, []string{"slot"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callx_delivered_total",
			Help: "Events delivered to the registered consumer, by event",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		m.payloads, m.events, m.rejected, m.parked, m.replayed, m.delivered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Watch registers the scrape-time gauges. It is separate from New because
// the dispatcher reports to Metrics before the machine exists.
func (m *Metrics) Watch(active ActiveCallProvider, consumer ConsumerProvider) {
	m.registry.MustRegister(newStateCollector(active, consumer))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Payload counts an inbound payload. result is the event kind, or
// "unhandled" / "malformed".
func (m *Metrics) Payload(result string) {
	if m == nil {
		return
	}
	m.payloads.WithLabelValues(result).Inc()
}

// Transition counts an applied or ignored transition.
func (m *Metrics) Transition(kind call.Kind, applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.events.WithLabelValues(string(kind)).Inc()
	} else {
		m.rejected.WithLabelValues(string(kind)).Inc()
	}
}

// Delivered implements dispatcher.Observer.
func (m *Metrics) Delivered(kind call.Kind) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(string(kind)).Inc()
}

// Parked implements dispatcher.Observer.
func (m *Metrics) Parked(kind call.Kind) {
	if m == nil {
		return
	}
	m.parked.WithLabelValues(string(kind)).Inc()
}

// Replayed implements dispatcher.Observer.
func (m *Metrics) Replayed(slot string) {
	if m == nil {
		return
	}
	m.replayed.WithLabelValues(slot).Inc()
}

// stateCollector reads the machine and dispatcher at scrape time.
type stateCollector struct {
	active   ActiveCallProvider
	consumer ConsumerProvider

	activeDesc   *prometheus.Desc
	consumerDesc *prometheus.Desc
}

func newStateCollector(active ActiveCallProvider, consumer ConsumerProvider) *stateCollector {
	return &stateCollector{
		active:   active,
		consumer: consumer,
		activeDesc: prometheus.NewDesc(
			"callx_active_call",
			"Whether a call is currently ringing (1) or not (0)",
			nil, nil,
		),
		consumerDesc: prometheus.NewDesc(
			"callx_consumer_registered",
			"Whether an event consumer is registered (1) or not (0)",
			nil, nil,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeDesc
	ch <- c.consumerDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	if c.active != nil {
		ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, boolValue(c.active.IsActive()))
	}
	if c.consumer != nil {
		ch <- prometheus.MustNewConstMetric(c.consumerDesc, prometheus.GaugeValue, boolValue(c.consumer.Registered()))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
