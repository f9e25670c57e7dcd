// Package metrics provides Prometheus metrics for proxyreg.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for proxyreg.
type Metrics struct {
	// Registry operations
	Operations *prometheus.CounterVec

	// Staged load outcomes
	LoadProxies *prometheus.CounterVec
	Reloads     *prometheus.CounterVec

	// Option changes
	OptionChanges *prometheus.CounterVec

	// API requests
	RequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyreg_operations_total",
			Help: "Registry operations by kind and result",
		},
		[]string{"op", "result"},
	)

	m.LoadProxies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyreg_load_proxies_total",
			Help: "Staged proxies handled by config load commits",
		},
		[]string{"outcome"},
	)

	m.Reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyreg_config_reloads_total",
			Help: "Configuration reloads by result",
		},
		[]string{"result"},
	)

	m.OptionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyreg_option_changes_total",
			Help: "Proxy option value changes by field",
		},
		[]string{"field"},
	)

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyreg_api_requests_total",
			Help: "Administrative API requests",
		},
		[]string{"method", "status"},
	)

	m.registry.MustRegister(
		m.Operations,
		m.LoadProxies,
		m.Reloads,
		m.OptionChanges,
		m.RequestsTotal,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOperation counts a registry operation.
func (m *Metrics) RecordOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// RecordLoad counts the outcome of a staged load commit.
func (m *Metrics) RecordLoad(promoted, discarded int) {
	m.LoadProxies.WithLabelValues("promoted").Add(float64(promoted))
	m.LoadProxies.WithLabelValues("discarded").Add(float64(discarded))
}

// RecordReload counts a configuration reload.
func (m *Metrics) RecordReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Reloads.WithLabelValues(result).Inc()
}

// RecordOptionChange counts a changed proxy option.
func (m *Metrics) RecordOptionChange(field string) {
	m.OptionChanges.WithLabelValues(field).Inc()
}
