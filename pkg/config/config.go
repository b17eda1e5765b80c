package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/observability"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
)

// Sentinel validation errors.
var (
	ErrInvalidSliceLen    = errors.New("scenario slice length must be positive")
	ErrInvalidEpochs      = errors.New("scenario epochs must not be negative")
	ErrInvalidRangeSize   = errors.New("scenario range size must not be negative")
	ErrInvalidLogLevel    = errors.New("unknown log level")
	ErrInvalidSampleRatio = errors.New("sample ratio must be within [0, 1]")
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Config holds all pipeckpt configuration.
type Config struct {
	Scenario      ScenarioConfig      `mapstructure:"scenario"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ScenarioConfig sizes the built-in scenario pipelines.
type ScenarioConfig struct {
	SliceLen   int     `mapstructure:"slice_len"`
	Epochs     int64   `mapstructure:"epochs"`
	Multiplier float64 `mapstructure:"multiplier"`
	RangeSize  int64   `mapstructure:"range_size"`
	Seed       uint64  `mapstructure:"seed"`
}

// CheckpointConfig selects how checkpoints are encoded and where they are kept.
type CheckpointConfig struct {
	Codec               string `mapstructure:"codec"`
	Compress            bool   `mapstructure:"compress"`
	Dir                 string `mapstructure:"dir"`
	ExternalStatePolicy string `mapstructure:"external_state_policy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ObservabilityConfig holds OpenTelemetry and Prometheus settings.
type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
	Environment  string  `mapstructure:"environment"`
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Scenario.SliceLen <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSliceLen, c.Scenario.SliceLen)
	}

	if c.Scenario.Epochs < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEpochs, c.Scenario.Epochs)
	}

	if c.Scenario.RangeSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRangeSize, c.Scenario.RangeSize)
	}

	_, err := c.Codec()
	if err != nil {
		return err
	}

	_, err = c.Policy()
	if err != nil {
		return err
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, c.Observability.SampleRatio)
	}

	return nil
}

// Codec builds the configured checkpoint codec.
func (c *Config) Codec() (persist.Codec, error) {
	return persist.ByName(strings.ToLower(c.Checkpoint.Codec), c.Checkpoint.Compress)
}

// Policy parses the configured external state policy.
func (c *Config) Policy() (checkpoint.ExternalStatePolicy, error) {
	return checkpoint.ParsePolicy(c.Checkpoint.ExternalStatePolicy)
}

// ObservabilityConfig converts the logging and observability sections for observability.Init.
func (c *Config) ObservabilityConfig(version string) observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	oc.Environment = c.Observability.Environment
	oc.OTLPEndpoint = c.Observability.OTLPEndpoint
	oc.OTLPInsecure = c.Observability.OTLPInsecure
	oc.OTLPHeaders = observability.ParseOTLPHeaders(c.Observability.OTLPHeaders)
	oc.SampleRatio = c.Observability.SampleRatio
	oc.Prometheus = c.Observability.MetricsAddr != ""
	oc.LogLevel = observability.ParseLogLevel(c.Logging.Level)
	oc.LogJSON = c.Logging.JSON

	return oc
}
