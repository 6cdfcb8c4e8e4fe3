package transport

import (
	"github.com/sirupsen/logrus"
)

// Options configures a Transport's framing and compression behavior.
type Options struct {
	// CompressionThreshold is the per-transport byte threshold controlling
	// zlib compression. Negative disables compression and forces
	// uncompressed-length = 0 on every write. Non-negative enables it:
	// payloads whose uncompressed size strictly exceeds the threshold are
	// compressed.
	CompressionThreshold int

	// Logger is kept on the Transport for structured diagnostics; no
	// Transport method writes to it. Defaults to a discard logger so
	// Transport never writes to a process-wide global.
	Logger logrus.FieldLogger

	// Metrics, when non-nil, is incremented for bytes read/written and
	// compression activity.
	Metrics *Metrics
}

var defaultOptions = Options{
	CompressionThreshold: -1,
	Logger:               newDiscardLogger(),
}

// Option configures a Transport at construction time.
type Option func(*Options)

// WithCompressionThreshold sets the byte threshold above which outgoing
// payloads are zlib-compressed. A negative value disables compression.
func WithCompressionThreshold(n int) Option {
	return func(o *Options) { o.CompressionThreshold = n }
}

// WithLogger injects a structured logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics attaches a Metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func newDiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
