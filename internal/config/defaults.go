package config

import "time"

// Default values applied before the config file and environment are read.
const (
	DefaultMiningLanguage       = "C"
	DefaultMiningWorkers        = 4
	DefaultMiningRecordsPerFile = 1000
	DefaultMiningShardTimeout   = 2 * time.Hour
	DefaultMiningOutputDir      = "out"
	DefaultMiningBackend        = BackendGitlib
	DefaultMiningCompress       = false
	DefaultMiningKeepChunks     = false

	DefaultFeaturesSnapshotEvery = 1000
	DefaultFeaturesResume        = false
	DefaultFeaturesCodec         = "json"

	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = LogFormatText

	DefaultTelemetryOTLPInsecure = false
	DefaultTelemetrySampleRatio  = 1.0
)
