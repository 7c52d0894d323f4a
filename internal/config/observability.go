package config

// ObservabilityConfig holds observability configuration. Exporter
// endpoints follow the standard OTEL_EXPORTER_OTLP_* variables.
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"FLOW7_OTEL_ENABLED"`
	ServiceName string `env:"FLOW7_OTEL_SERVICE_NAME" envDefault:"flow7"`
}
