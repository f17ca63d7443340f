package config

// LoggingConfig configures internal/observability's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing and other observability features.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`

	// Diagnostics toggles the internal/observability diagnostic event bus
	// (run attempts, lane enqueue/dequeue, model usage, stuck sessions).
	// Off by default since it fans out on every pipeline stage transition.
	Diagnostics bool `yaml:"diagnostics"`

	// EventStoreSize bounds the in-memory run/tool event timeline kept for
	// debugging a single process's lifetime. 0 uses the package default.
	EventStoreSize int `yaml:"event_store_size"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}
