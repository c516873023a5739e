package config

import (
	"errors"
	"strings"
	"time"
)

// Backend names accepted by mining.backend.
const (
	BackendGitlib = "gitlib"
	BackendGit    = "git"
)

// Log formats accepted by logging.format.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the top-level configuration struct for defectminer.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Mining    MiningConfig    `mapstructure:"mining"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// MiningConfig holds commit mining knobs.
type MiningConfig struct {
	RepoPath       string        `mapstructure:"repo_path"`
	Language       string        `mapstructure:"language"`
	Workers        int           `mapstructure:"workers"`
	RecordsPerFile int           `mapstructure:"records_per_file"`
	ShardTimeout   time.Duration `mapstructure:"shard_timeout"`
	OutputDir      string        `mapstructure:"output_dir"`
	ChunkDir       string        `mapstructure:"chunk_dir"`
	KeepChunks     bool          `mapstructure:"keep_chunks"`
	Backend        string        `mapstructure:"backend"`
	Compress       bool          `mapstructure:"compress"`
	Start          int           `mapstructure:"start"`
	End            int           `mapstructure:"end"`
	MaxFiles       int           `mapstructure:"max_files"`
}

// FeaturesConfig holds feature aggregation settings.
type FeaturesConfig struct {
	SnapshotDir   string `mapstructure:"snapshot_dir"`
	SnapshotEvery int    `mapstructure:"snapshot_every"`
	Resume        bool   `mapstructure:"resume"`
	Codec         string `mapstructure:"codec"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds tracing and metrics export settings.
type TelemetryConfig struct {
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("mining.workers must be non-negative")
	// ErrInvalidRecordsPerFile indicates the chunk rotation threshold is negative.
	ErrInvalidRecordsPerFile = errors.New("mining.records_per_file must be non-negative")
	// ErrInvalidShardTimeout indicates the shard deadline is negative.
	ErrInvalidShardTimeout = errors.New("mining.shard_timeout must be non-negative")
	// ErrInvalidBackend indicates an unknown repository backend.
	ErrInvalidBackend = errors.New("mining.backend must be gitlib or git")
	// ErrInvalidRange indicates start/end do not describe a window.
	ErrInvalidRange = errors.New("mining.start and mining.end must be non-negative with end > start")
	// ErrInvalidMaxFiles indicates the per-commit file bound is negative.
	ErrInvalidMaxFiles = errors.New("mining.max_files must be non-negative")
	// ErrInvalidSnapshotEvery indicates the snapshot interval is negative.
	ErrInvalidSnapshotEvery = errors.New("features.snapshot_every must be non-negative")
	// ErrInvalidCodec indicates an unknown snapshot codec.
	ErrInvalidCodec = errors.New("features.codec must be json or gob")
	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
	// ErrInvalidLogFormat indicates an unknown log format.
	ErrInvalidLogFormat = errors.New("logging.format must be text or json")
	// ErrInvalidSampleRatio indicates the trace sample ratio is out of range.
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
)

// sampleRatioMax is the upper bound for the trace sample ratio.
const sampleRatioMax = 1.0

// Validate checks Config invariants and returns the first error found.
// Empty enumerations are accepted and mean the default.
func (c *Config) Validate() error {
	miningErr := c.validateMining()
	if miningErr != nil {
		return miningErr
	}

	featuresErr := c.validateFeatures()
	if featuresErr != nil {
		return featuresErr
	}

	return c.validateAmbient()
}

func (c *Config) validateMining() error {
	m := c.Mining

	if m.Workers < 0 {
		return ErrInvalidWorkers
	}

	if m.RecordsPerFile < 0 {
		return ErrInvalidRecordsPerFile
	}

	if m.ShardTimeout < 0 {
		return ErrInvalidShardTimeout
	}

	switch m.Backend {
	case "", BackendGitlib, BackendGit:
	default:
		return ErrInvalidBackend
	}

	if m.Start < 0 || m.End < 0 || (m.End > 0 && m.End <= m.Start) {
		return ErrInvalidRange
	}

	if m.MaxFiles < 0 {
		return ErrInvalidMaxFiles
	}

	return nil
}

func (c *Config) validateFeatures() error {
	if c.Features.SnapshotEvery < 0 {
		return ErrInvalidSnapshotEvery
	}

	switch c.Features.Codec {
	case "", "json", "gob":
		return nil
	default:
		return ErrInvalidCodec
	}
}

func (c *Config) validateAmbient() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidLogLevel
	}

	switch c.Logging.Format {
	case "", LogFormatText, LogFormatJSON:
	default:
		return ErrInvalidLogFormat
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > sampleRatioMax {
		return ErrInvalidSampleRatio
	}

	return nil
}
