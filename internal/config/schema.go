// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for mtpsched.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultStore       = "store.sqlite"
	DefaultDataDir     = ".mtpsched"
	DefaultTimezone    = "UTC"
	DefaultTrigger     = "* * * * *"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultServiceName = "mtpsched"
	DefaultMetricsJob  = "mtpsched"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir is where file-backed modules keep their state.
	DataDir string `yaml:"data_dir"`

	// Store is the module ID of the entry store, e.g. "store.postgres".
	Store string `yaml:"store"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "job.webhook").
	Modules map[string]yaml.Node `yaml:"modules"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SchedulerConfig tunes the runner and the daemon trigger.
type SchedulerConfig struct {
	// Timezone is the IANA zone recurrences are evaluated in.
	Timezone string `yaml:"timezone"`

	// Concurrency is how many entries a cycle may process at once.
	Concurrency int `yaml:"concurrency"`

	// Trigger is the cron expression the daemon fires cycles on.
	Trigger string `yaml:"trigger"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Redact lists extra literal values masked in every log line.
	Redact []string `yaml:"redact,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export. An empty endpoint
// disables export.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// MetricsConfig configures the Prometheus pushgateway used by one-shot runs.
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// Default returns a configuration with every default applied and no
// module sections.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = DefaultTimezone
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 1
	}
	if c.Scheduler.Trigger == "" {
		c.Scheduler.Trigger = DefaultTrigger
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}
}

// Location resolves Scheduler.Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}
