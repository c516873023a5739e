package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Mining: config.MiningConfig{
			Language:       "C",
			Workers:        4,
			RecordsPerFile: 1000,
			ShardTimeout:   time.Hour,
			Backend:        config.BackendGitlib,
			Start:          5,
			End:            10,
		},
		Features: config.FeaturesConfig{
			SnapshotEvery: 100,
			Codec:         "gob",
		},
		Logging: config.LoggingConfig{
			Level:  "WARN",
			Format: config.LogFormatJSON,
		},
		Telemetry: config.TelemetryConfig{
			SampleRatio: 0.5,
		},
	}
}

func TestValidate_ValidConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_ZeroConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{"negative workers", func(c *config.Config) { c.Mining.Workers = -1 }, config.ErrInvalidWorkers},
		{"negative records per file", func(c *config.Config) { c.Mining.RecordsPerFile = -1 }, config.ErrInvalidRecordsPerFile},
		{"negative shard timeout", func(c *config.Config) { c.Mining.ShardTimeout = -time.Second }, config.ErrInvalidShardTimeout},
		{"unknown backend", func(c *config.Config) { c.Mining.Backend = "hg" }, config.ErrInvalidBackend},
		{"negative start", func(c *config.Config) { c.Mining.Start = -1 }, config.ErrInvalidRange},
		{"end before start", func(c *config.Config) { c.Mining.End = 5 }, config.ErrInvalidRange},
		{"negative max files", func(c *config.Config) { c.Mining.MaxFiles = -3 }, config.ErrInvalidMaxFiles},
		{"negative snapshot interval", func(c *config.Config) { c.Features.SnapshotEvery = -1 }, config.ErrInvalidSnapshotEvery},
		{"unknown codec", func(c *config.Config) { c.Features.Codec = "xml" }, config.ErrInvalidCodec},
		{"unknown log level", func(c *config.Config) { c.Logging.Level = "trace" }, config.ErrInvalidLogLevel},
		{"unknown log format", func(c *config.Config) { c.Logging.Format = "logfmt" }, config.ErrInvalidLogFormat},
		{"sample ratio above one", func(c *config.Config) { c.Telemetry.SampleRatio = 1.5 }, config.ErrInvalidSampleRatio},
		{"negative sample ratio", func(c *config.Config) { c.Telemetry.SampleRatio = -0.1 }, config.ErrInvalidSampleRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_OpenEndedRange(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Mining.Start = 20
	cfg.Mining.End = 0

	require.NoError(t, cfg.Validate())
}
