// Package config loads defectminer settings from a YAML file, DEFECTMINER_*
// environment variables and built-in defaults, in increasing precedence of
// defaults < file < environment. Command-line flags are applied on top by the
// CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".defectminer"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for defectminer settings.
const envPrefix = "DEFECTMINER"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
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

// applyDefaults registers every key, which also makes AutomaticEnv see keys
// that no config file mentions.
func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("mining.repo_path", "")
	viperCfg.SetDefault("mining.language", DefaultMiningLanguage)
	viperCfg.SetDefault("mining.workers", DefaultMiningWorkers)
	viperCfg.SetDefault("mining.records_per_file", DefaultMiningRecordsPerFile)
	viperCfg.SetDefault("mining.shard_timeout", DefaultMiningShardTimeout)
	viperCfg.SetDefault("mining.output_dir", DefaultMiningOutputDir)
	viperCfg.SetDefault("mining.chunk_dir", "")
	viperCfg.SetDefault("mining.keep_chunks", DefaultMiningKeepChunks)
	viperCfg.SetDefault("mining.backend", DefaultMiningBackend)
	viperCfg.SetDefault("mining.compress", DefaultMiningCompress)
	viperCfg.SetDefault("mining.start", 0)
	viperCfg.SetDefault("mining.end", 0)
	viperCfg.SetDefault("mining.max_files", 0)

	viperCfg.SetDefault("features.snapshot_dir", "")
	viperCfg.SetDefault("features.snapshot_every", DefaultFeaturesSnapshotEvery)
	viperCfg.SetDefault("features.resume", DefaultFeaturesResume)
	viperCfg.SetDefault("features.codec", DefaultFeaturesCodec)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.format", DefaultLoggingFormat)

	viperCfg.SetDefault("telemetry.environment", "")
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultTelemetryOTLPInsecure)
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.metrics_addr", "")
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultTelemetrySampleRatio)
}
