// Package config provides YAML and environment based configuration for pipeckpt.
package config

// Scenario defaults.
const (
	DefaultScenarioSliceLen   = 7
	DefaultScenarioEpochs     = 14
	DefaultScenarioMultiplier = 37.0
	DefaultScenarioRangeSize  = 100
	DefaultScenarioSeed       = 1
)

// Checkpoint defaults.
const (
	DefaultCheckpointCodec               = "gob"
	DefaultCheckpointCompress            = true
	DefaultCheckpointDir                 = ""
	DefaultCheckpointExternalStatePolicy = "fail"
)

// Logging defaults.
const (
	DefaultLoggingLevel = "info"
	DefaultLoggingJSON  = false
)

// Observability defaults.
const (
	DefaultOTLPEndpoint = ""
	DefaultOTLPInsecure = false
	DefaultOTLPHeaders  = ""
	DefaultSampleRatio  = 1.0
	DefaultMetricsAddr  = ""
	DefaultEnvironment  = ""
)
