package client

import "github.com/sirupsen/logrus"

// Options configures a Conn.
type Options struct {
	Logger logrus.FieldLogger
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
