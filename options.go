package annex

// Options holds the ambient configuration shared by all facade handles.
type Options struct {
	// Logger receives structured operation logs. Defaults to a noop logger.
	Logger *Logger

	// Metrics receives operation timings and counts. Defaults to noop.
	Metrics MetricsCollector
}

func defaultOptions() Options {
	return Options{
		Logger:  NoopLogger(),
		Metrics: NoopMetricsCollector{},
	}
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}
	return opts
}

// WithLogger sets the logger used by a handle.
func WithLogger(logger *Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics sets the metrics collector used by a handle.
func WithMetrics(metrics MetricsCollector) func(o *Options) {
	return func(o *Options) {
		o.Metrics = metrics
	}
}
