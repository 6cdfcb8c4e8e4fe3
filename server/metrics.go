package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the command loop: commands dispatched by code, errors
// by taxonomy class, live object-table cells, and open connections (one
// gauge, not split by server mode).
type Metrics struct {
	commands    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	objectCells prometheus.GaugeFunc
	connections prometheus.Gauge
}

// NewMetrics registers and returns a Metrics bound to reg. objectCells is
// sampled lazily via liveCells whenever Prometheus scrapes, so the object
// table need not report through a side channel.
func NewMetrics(reg prometheus.Registerer, liveCells func() float64) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agnos_server_commands_total",
			Help: "Commands dispatched, by command code.",
		}, []string{"code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agnos_server_errors_total",
			Help: "Dispatch errors, by taxonomy class (protocol, packed, generic).",
		}, []string{"kind"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agnos_server_connections",
			Help: "Currently open connections.",
		}),
	}
	m.objectCells = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agnos_server_object_cells",
		Help: "Live cells in the server object table.",
	}, liveCells)
	reg.MustRegister(m.commands, m.errors, m.connections, m.objectCells)
	return m
}

// ConnOpened increments the open-connections gauge.
func (m *Metrics) ConnOpened() { m.connections.Inc() }

// ConnClosed decrements the open-connections gauge.
func (m *Metrics) ConnClosed() { m.connections.Dec() }
