package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openconveyor/conveyor/pkg/policy"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

// EnvVar is the environment variable consulted when no explicit
// environment is given.
const EnvVar = "CONVEYOR_ENV"

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root Conveyor configuration.
type Config struct {
	// Environment names the runtime environment when neither the flag
	// nor CONVEYOR_ENV is set.
	Environment string `yaml:"environment" validate:"omitempty,oneof=local development staging production"`

	Dispatch DispatchConfig `yaml:"dispatch"`
	Browser  BrowserConfig  `yaml:"browser"`
	Policy   PolicyConfig   `yaml:"policy"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DispatchConfig configures the execution dispatcher.
type DispatchConfig struct {
	// DefaultTimeout bounds module bodies without a per-request timeout.
	DefaultTimeout Duration `yaml:"default_timeout"`

	// MaxRetries is the default retry budget for transient failures.
	MaxRetries int `yaml:"max_retries" validate:"min=0"`

	// RetryDelay is the initial backoff delay.
	RetryDelay Duration `yaml:"retry_delay"`
}

// BrowserConfig configures the session pool.
type BrowserConfig struct {
	MaxSessions   int      `yaml:"max_sessions" validate:"min=0"`
	IdleTimeout   Duration `yaml:"idle_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// PolicyConfig configures capability policy loading.
type PolicyConfig struct {
	// Paths are files or directories of .rego override policies.
	Paths []string `yaml:"paths"`

	// Watch reloads override policies when their files change.
	Watch bool `yaml:"watch"`
}

// StoreConfig configures the execution history store.
type StoreConfig struct {
	// Path is the SQLite database path. Empty disables history.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"omitempty,hostname_port"`
	Path          string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `yaml:"insecure"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			DefaultTimeout: Duration(30 * time.Second),
			MaxRetries:     0,
			RetryDelay:     Duration(time.Second),
		},
		Browser: BrowserConfig{
			MaxSessions:   4,
			IdleTimeout:   Duration(5 * time.Minute),
			SweepInterval: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: "127.0.0.1:9090",
			Path:          "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "none",
			SamplingRate: 1.0,
		},
	}
}

// Load reads, parses, and validates a config file. Missing fields keep
// their defaults; unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ResolveEnvironment resolves the runtime environment exactly once:
// explicit flag, then CONVEYOR_ENV, then the config file, then production.
// Unknown names resolve to production.
func (c *Config) ResolveEnvironment(explicit string) policy.Environment {
	if explicit != "" {
		return policy.ParseEnvironment(explicit)
	}
	if env := os.Getenv(EnvVar); env != "" {
		return policy.ParseEnvironment(env)
	}
	if c.Environment != "" {
		return policy.ParseEnvironment(c.Environment)
	}
	return policy.EnvProduction
}

// TelemetryConfig maps the file config onto the telemetry bundle config.
func (c *Config) TelemetryConfig(version string, env policy.Environment) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Environment = string(env)
	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Logging.Output = c.Logging.Output
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	tc.Metrics.Path = c.Metrics.Path
	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Tracing.Insecure
	return tc
}
