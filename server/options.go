package server

import "github.com/sirupsen/logrus"

// Options configures a Processor / Serve invocation.
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *Metrics
}

var defaultOptions = Options{
	Logger: logrus.New(),
}

// Option configures Options.
type Option func(*Options)

// WithLogger injects a structured logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics attaches a Metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}
