package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "defectminer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultMiningLanguage, cfg.Mining.Language)
	assert.Equal(t, config.DefaultMiningWorkers, cfg.Mining.Workers)
	assert.Equal(t, config.DefaultMiningRecordsPerFile, cfg.Mining.RecordsPerFile)
	assert.Equal(t, config.DefaultMiningShardTimeout, cfg.Mining.ShardTimeout)
	assert.Equal(t, config.BackendGitlib, cfg.Mining.Backend)
	assert.Equal(t, config.DefaultFeaturesSnapshotEvery, cfg.Features.SnapshotEvery)
	assert.Equal(t, "json", cfg.Features.Codec)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatText, cfg.Logging.Format)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 1e-9)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
mining:
  repo_path: /srv/linux
  language: go
  workers: 8
  shard_timeout: 30m
  backend: git
  compress: true
  start: 10
  end: 50
features:
  snapshot_dir: /tmp/snap
  snapshot_every: 250
  resume: true
  codec: gob
logging:
  level: debug
  format: json
telemetry:
  otlp_endpoint: collector:4317
  metrics_addr: ":9464"
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/linux", cfg.Mining.RepoPath)
	assert.Equal(t, "go", cfg.Mining.Language)
	assert.Equal(t, 8, cfg.Mining.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Mining.ShardTimeout)
	assert.Equal(t, config.BackendGit, cfg.Mining.Backend)
	assert.True(t, cfg.Mining.Compress)
	assert.Equal(t, 10, cfg.Mining.Start)
	assert.Equal(t, 50, cfg.Mining.End)
	assert.Equal(t, config.DefaultMiningRecordsPerFile, cfg.Mining.RecordsPerFile)
	assert.Equal(t, "/tmp/snap", cfg.Features.SnapshotDir)
	assert.Equal(t, 250, cfg.Features.SnapshotEvery)
	assert.True(t, cfg.Features.Resume)
	assert.Equal(t, "gob", cfg.Features.Codec)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.LogFormatJSON, cfg.Logging.Format)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, ":9464", cfg.Telemetry.MetricsAddr)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "mining:\n  workers: 2\n")

	t.Setenv("DEFECTMINER_MINING_WORKERS", "12")
	t.Setenv("DEFECTMINER_FEATURES_RESUME", "true")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Mining.Workers)
	assert.True(t, cfg.Features.Resume)
}

func TestLoadConfig_InvalidValueFailsValidation(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "mining:\n  backend: svn\n"))
	require.ErrorIs(t, err, config.ErrInvalidBackend)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "mining: [workers"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
