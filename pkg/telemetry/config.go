package telemetry

import (
	"os"
	"strings"

	"github.com/antisplit/pkg/config"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "antisplit"

// Config holds OpenTelemetry settings. Values come from the standard OTEL_*
// environment variables and may be completed from the application config.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	// Protocol is grpc or http/protobuf.
	Protocol string
	Headers  map[string]string
	Insecure bool
	// Sampler is one of the OTEL_TRACES_SAMPLER names; empty means always_on.
	Sampler       string
	SamplerArg    string
	ResourceAttrs map[string]string

	protocolFromEnv bool
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	protocol := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
	cfg := &Config{
		Enabled:         envBool("OTEL_ENABLED"),
		ServiceName:     getEnvOrDefault("OTEL_SERVICE_NAME", DefaultServiceName),
		ServiceVersion:  getEnvOrDefault("OTEL_SERVICE_VERSION", "unknown"),
		Endpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Protocol:        protocol,
		Headers:         parseKeyValuePairs(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Insecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE"),
		Sampler:         os.Getenv("OTEL_TRACES_SAMPLER"),
		SamplerArg:      os.Getenv("OTEL_TRACES_SAMPLER_ARG"),
		ResourceAttrs:   parseKeyValuePairs(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")),
		protocolFromEnv: protocol != "",
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "grpc"
	}
	return cfg
}

// Overlay completes c from the telemetry section of the config file.
// Environment variables take precedence over file values.
func (c *Config) Overlay(tc config.TelemetryConfig) {
	if tc.Enabled {
		c.Enabled = true
	}
	if c.Endpoint == "" {
		c.Endpoint = tc.Endpoint
	}
	if !c.protocolFromEnv && tc.Protocol != "" {
		c.Protocol = tc.Protocol
	}
	if tc.Insecure {
		c.Insecure = true
	}
}

func envBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseKeyValuePairs parses "k1=v1,k2=v2". Values may contain '='.
func parseKeyValuePairs(s string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}
