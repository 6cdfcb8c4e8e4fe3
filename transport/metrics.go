package transport

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments transport-level activity: bytes moved and how often
// compression actually engaged. Constructed against a caller-supplied
// Registerer rather than the global prometheus default registry, avoiding
// a process-wide singleton.
type Metrics struct {
	bytesRead         prometheus.Counter
	bytesWritten      prometheus.Counter
	packetsCompressed prometheus.Counter
	packetsPlain      prometheus.Counter
}

// NewMetrics registers and returns a Metrics bound to reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agnos_transport_bytes_read_total",
			Help: "Total payload bytes read off the wire, post-decompression.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agnos_transport_bytes_written_total",
			Help: "Total payload bytes written to the wire, pre-compression.",
		}),
		packetsCompressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agnos_transport_packets_compressed_total",
			Help: "Packets written with zlib compression applied.",
		}),
		packetsPlain: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agnos_transport_packets_plain_total",
			Help: "Packets written without compression.",
		}),
	}
	reg.MustRegister(m.bytesRead, m.bytesWritten, m.packetsCompressed, m.packetsPlain)
	return m
}
