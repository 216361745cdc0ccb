package observability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "keyrelay",
			ServiceVersion: "dev",
		},
	}
}

// LoadConfig reads the observability section of the service config file.
// An empty or missing path yields the defaults.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig struct {
		Observability struct {
			Logging LoggingConfig `yaml:"logging"`
			Metrics struct {
				Enabled        *bool `yaml:"enabled"`
				PrometheusPort int   `yaml:"prometheus_port"`
			} `yaml:"metrics"`
			Tracing TracingConfig `yaml:"tracing"`
		} `yaml:"observability"`
	}

	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	obs := fileConfig.Observability

	// Merge with defaults (only override non-zero values)
	if obs.Logging.Level != "" {
		config.Logging.Level = obs.Logging.Level
	}
	if obs.Logging.Format != "" {
		config.Logging.Format = obs.Logging.Format
	}

	if obs.Metrics.Enabled != nil {
		config.Metrics.Enabled = *obs.Metrics.Enabled
	}
	if obs.Metrics.PrometheusPort > 0 {
		config.Metrics.PrometheusPort = obs.Metrics.PrometheusPort
	}

	// Tracing config - always override the Enabled flag from file
	config.Tracing.Enabled = obs.Tracing.Enabled
	if obs.Tracing.Exporter != "" {
		config.Tracing.Exporter = obs.Tracing.Exporter
	}
	if obs.Tracing.OTLPEndpoint != "" {
		config.Tracing.OTLPEndpoint = obs.Tracing.OTLPEndpoint
	}
	if obs.Tracing.ZipkinEndpoint != "" {
		config.Tracing.ZipkinEndpoint = obs.Tracing.ZipkinEndpoint
	}
	// Sample rate 0 cannot be expressed here; disable tracing instead
	if obs.Tracing.SampleRate > 0 && obs.Tracing.SampleRate <= 1.0 {
		config.Tracing.SampleRate = obs.Tracing.SampleRate
	}
	if obs.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = obs.Tracing.ServiceName
	}
	if obs.Tracing.ServiceVersion != "" {
		config.Tracing.ServiceVersion = obs.Tracing.ServiceVersion
	}

	return config, nil
}
