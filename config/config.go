// Package config loads and validates the YAML configuration that
// selects a sink's transport variant and ambient behavior.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration object covering sink construction,
// both emitter variants, and the ambient stack (introspection, metrics,
// tracing).
type Config struct {
	Sink          SinkConfig          `yaml:"sink"`
	ContainerFile ContainerFileConfig `yaml:"containerfile"`
	TopicBus      TopicBusConfig      `yaml:"topicbus"`
	Introspect    IntrospectConfig    `yaml:"introspect"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// SinkConfig selects the sink's identity, drain rate, and emitter
// variant. Identity-affecting fields (Id, Variant) are read once at
// startup; changing them in a hot-reloaded file requires a process
// restart to take effect (see config.Reloader).
type SinkConfig struct {
	ID     string `yaml:"id"`
	RateHz int    `yaml:"rate_hz"`
	// Variant selects the emitter: "containerfile" or "topicbus".
	Variant string `yaml:"variant"`
}

// ContainerFileConfig configures the container-file emitter variant.
type ContainerFileConfig struct {
	Directory   string `yaml:"directory"`
	Extension   string `yaml:"extension"`
	Compression string `yaml:"compression"`
	// MinFreeBytes guards against filling the destination disk; zero
	// disables the guard.
	MinFreeBytes uint64 `yaml:"min_free_bytes"`
}

// TopicBusConfig configures the topic-bus emitter variant.
type TopicBusConfig struct {
	Brokers     []string         `yaml:"brokers"`
	TopicPrefix string           `yaml:"topic_prefix"`
	Auth        TopicBusAuthYAML `yaml:"auth"`
}

// TopicBusAuthYAML is the YAML shape of topicbus.AuthConfig.
type TopicBusAuthYAML struct {
	Enabled   bool   `yaml:"enabled"`
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// IntrospectConfig configures the debug HTTP endpoint.
type IntrospectConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetricsConfig holds the metrics section of the file. Enabled is
// parsed but not read anywhere: the internal/metrics counters are always
// registered and updated.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig toggles otel span emission around Assign; drain cycles
// are not traced.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Exporter     string  `yaml:"exporter"` // "otlp", "jaeger", or "console"
	Endpoint     string  `yaml:"endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

func defaults() Config {
	return Config{
		Sink: SinkConfig{
			RateHz:  500,
			Variant: "containerfile",
		},
		ContainerFile: ContainerFileConfig{
			Extension:   "bin",
			Compression: "none",
		},
		TopicBus: TopicBusConfig{
			Auth: TopicBusAuthYAML{Mechanism: "scram-sha-256"},
		},
		Introspect: IntrospectConfig{
			Addr: ":9477",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			ServiceName: "ratesink",
			Exporter:    "otlp",
			Endpoint:    "http://localhost:4318/v1/traces",
			SampleRate:  1.0,
		},
	}
}

// Load reads and parses the YAML config file at path, applying defaults
// to any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the configuration errors that would otherwise
// surface as a confusing failure deeper in sink construction.
func (c *Config) Validate() error {
	switch c.Sink.Variant {
	case "containerfile", "topicbus":
	default:
		return fmt.Errorf("config: sink.variant must be \"containerfile\" or \"topicbus\", got %q", c.Sink.Variant)
	}
	if c.Sink.Variant == "containerfile" && c.ContainerFile.Directory == "" {
		return fmt.Errorf("config: containerfile.directory is required for the containerfile variant")
	}
	if c.Sink.Variant == "topicbus" && len(c.TopicBus.Brokers) == 0 {
		return fmt.Errorf("config: topicbus.brokers is required for the topicbus variant")
	}
	return nil
}
