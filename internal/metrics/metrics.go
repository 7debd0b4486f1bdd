package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for composite routing, lifecycle and
// the serial bridge. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	routes             *prometheus.CounterVec
	unrouted           *prometheus.CounterVec
	constructionErrors *prometheus.CounterVec
	proxyActivation    *prometheus.CounterVec
	unitsPublished     *prometheus.CounterVec
	publishFailures    *prometheus.CounterVec
	serialBytes        *prometheus.CounterVec
	handoffs           *prometheus.CounterVec
	activeComposites   prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_state_transitions_total",
			Help: "Lifecycle transitions observed per composite",
		}, []string{"composite", "transition"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_routes_total",
			Help: "Dynamic ports linked to a category chain",
		}, []string{"composite", "category"}),
		unrouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_unrouted_ports_total",
			Help: "Dynamic ports that matched no category or a category already routed",
		}, []string{"composite"}),
		constructionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_construction_errors_total",
			Help: "Unrecoverable construction or routing failures by class",
		}, []string{"class"}),
		proxyActivation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_proxy_activation_failures_total",
			Help: "Proxy ports that could not be activated",
		}, []string{"composite"}),
		unitsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_serial_units_published_total",
			Help: "Fixed-size units pushed by the serial bridge",
		}, []string{"composite"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_serial_publish_failures_total",
			Help: "Units rejected downstream of the serial bridge",
		}, []string{"composite"}),
		serialBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_serial_read_bytes_total",
			Help: "Bytes read from serial devices",
		}, []string{"device"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omc_handoffs_total",
			Help: "Buffers observed by identity handoff listeners",
		}, []string{"node"}),
		activeComposites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omc_active_composites",
			Help: "Composites currently in PLAYING",
		}),
	}

	registry.MustRegister(
		m.transitions,
		m.routes,
		m.unrouted,
		m.constructionErrors,
		m.proxyActivation,
		m.unitsPublished,
		m.publishFailures,
		m.serialBytes,
		m.handoffs,
		m.activeComposites,
	)

	return m
}

func (m *Metrics) IncTransition(composite, transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(composite, transition).Inc()
}

func (m *Metrics) IncRoute(composite, category string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(composite, category).Inc()
}

func (m *Metrics) IncUnrouted(composite string) {
	if m == nil {
		return
	}
	m.unrouted.WithLabelValues(composite).Inc()
}

func (m *Metrics) IncConstructionError(class string) {
	if m == nil {
		return
	}
	m.constructionErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) IncProxyActivationFailure(composite string) {
	if m == nil {
		return
	}
	m.proxyActivation.WithLabelValues(composite).Inc()
}

func (m *Metrics) IncUnitPublished(composite string) {
	if m == nil {
		return
	}
	m.unitsPublished.WithLabelValues(composite).Inc()
}

func (m *Metrics) IncPublishFailure(composite string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(composite).Inc()
}

func (m *Metrics) AddSerialBytes(device string, n int) {
	if m == nil {
		return
	}
	m.serialBytes.WithLabelValues(device).Add(float64(n))
}

func (m *Metrics) IncHandoff(node string) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(node).Inc()
}

func (m *Metrics) SetActiveComposites(n int) {
	if m == nil {
		return
	}
	m.activeComposites.Set(float64(n))
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
