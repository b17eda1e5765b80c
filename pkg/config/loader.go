package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".pipeckpt"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for pipeckpt settings.
const envPrefix = "PIPECKPT"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, .pipeckpt.yaml is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		Scenario: ScenarioConfig{
			SliceLen:   DefaultScenarioSliceLen,
			Epochs:     DefaultScenarioEpochs,
			Multiplier: DefaultScenarioMultiplier,
			RangeSize:  DefaultScenarioRangeSize,
			Seed:       DefaultScenarioSeed,
		},
		Checkpoint: CheckpointConfig{
			Codec:               DefaultCheckpointCodec,
			Compress:            DefaultCheckpointCompress,
			Dir:                 DefaultCheckpointDir,
			ExternalStatePolicy: DefaultCheckpointExternalStatePolicy,
		},
		Logging: LoggingConfig{
			Level: DefaultLoggingLevel,
			JSON:  DefaultLoggingJSON,
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: DefaultOTLPEndpoint,
			OTLPInsecure: DefaultOTLPInsecure,
			OTLPHeaders:  DefaultOTLPHeaders,
			SampleRatio:  DefaultSampleRatio,
			MetricsAddr:  DefaultMetricsAddr,
			Environment:  DefaultEnvironment,
		},
	}
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("scenario.slice_len", DefaultScenarioSliceLen)
	viperCfg.SetDefault("scenario.epochs", DefaultScenarioEpochs)
	viperCfg.SetDefault("scenario.multiplier", DefaultScenarioMultiplier)
	viperCfg.SetDefault("scenario.range_size", DefaultScenarioRangeSize)
	viperCfg.SetDefault("scenario.seed", DefaultScenarioSeed)

	viperCfg.SetDefault("checkpoint.codec", DefaultCheckpointCodec)
	viperCfg.SetDefault("checkpoint.compress", DefaultCheckpointCompress)
	viperCfg.SetDefault("checkpoint.dir", DefaultCheckpointDir)
	viperCfg.SetDefault("checkpoint.external_state_policy", DefaultCheckpointExternalStatePolicy)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.json", DefaultLoggingJSON)

	viperCfg.SetDefault("observability.otlp_endpoint", DefaultOTLPEndpoint)
	viperCfg.SetDefault("observability.otlp_insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("observability.otlp_headers", DefaultOTLPHeaders)
	viperCfg.SetDefault("observability.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("observability.metrics_addr", DefaultMetricsAddr)
	viperCfg.SetDefault("observability.environment", DefaultEnvironment)
}
