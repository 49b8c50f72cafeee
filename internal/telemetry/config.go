package telemetry

// Config holds configuration for the tracer
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"-"`

	// Environment is the deployment environment. Empty means the detected
	// CI provider.
	Environment string `yaml:"environment"`

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	// If empty, spans are recorded but not exported.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `yaml:"insecure"`

	// Headers are sent with every export request, e.g. an API key.
	Headers map[string]string `yaml:"headers"`

	// SampleRate is the fraction of traces to sample (0.0 to 1.0)
	SampleRate float64 `yaml:"sample_rate"`
}

// DefaultConfig returns tracing disabled, which is what a CI runner wants
// unless a collector is explicitly configured.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "cibox",
		ServiceVersion: "dev",
		Enabled:        false,
		SampleRate:     1.0,
	}
}
