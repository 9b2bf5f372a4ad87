package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the meter.
//
// Pipeline values are GaugeFuncs evaluated at scrape time from the snapshot
// source, so the sampling loop never pays for them.
type Metrics struct {
	registry *prometheus.Registry

	resizes       prometheus.Counter
	streamClients prometheus.Gauge
}

// NewMetrics creates a registry and registers the meter's metrics on it.
func NewMetrics(src SnapshotSource) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightmeter_resizes_total",
			Help: "Number of applied history capacity changes",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightmeter_stream_clients",
			Help: "Current number of connected websocket stream clients",
		}),
	}

	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightmeter_voltage",
			Help: "Latest normalised light sensor reading",
		}, func() float64 { return src.Snapshot().Voltage }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightmeter_dips",
			Help: "Dips detected in the current history window",
		}, func() float64 { return float64(src.Snapshot().Dips) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightmeter_history_capacity",
			Help: "Capacity of the sample history",
		}, func() float64 { return float64(src.Snapshot().Capacity) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightmeter_history_len",
			Help: "Samples currently held in the history",
		}, func() float64 { return float64(src.Snapshot().Count) }),
		m.resizes,
		m.streamClients,
	)

	return m
}

// ObserveResize counts an applied capacity change. It matches the
// sampling.SamplerConfig.OnResize signature.
func (m *Metrics) ObserveResize(from, to int) {
	if m == nil {
		return
	}
	m.resizes.Inc()
}

// ClientConnected increments the connected stream clients count.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

// ClientDisconnected decrements the connected stream clients count.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
