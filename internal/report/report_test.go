package report_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/defectminer/internal/report"
	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
)

func miningStats() miner.RunStats {
	return miner.RunStats{
		IDs:          1200,
		Mined:        1000,
		Skipped:      190,
		Merged:       1000,
		FailedShards: 1,
		Chunks:       3,
		Bytes:        3 << 20,
		Duration:     1500 * time.Millisecond,
		Shards: []miner.ShardStats{
			{Index: 0, IDs: 600, Mined: 550, Skipped: 50, Chunks: 2, Bytes: 2 << 20},
			{Index: 1, IDs: 600, Mined: 450, Skipped: 140, Chunks: 1, Bytes: 1 << 20,
				LastCommit: "c9", Err: errors.New("shard stopped")},
		},
	}
}

func TestNewPrinter_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := report.NewPrinter(&bytes.Buffer{}, "xml", false)
	require.ErrorIs(t, err, report.ErrUnknownFormat)
}

func TestFromMining_CarriesShardErrors(t *testing.T) {
	t.Parallel()

	s := report.FromMining("/repo", "out/repo.jsonl", miningStats())

	require.Len(t, s.Shards, 2)
	assert.Empty(t, s.Shards[0].Error)
	assert.Equal(t, "shard stopped", s.Shards[1].Error)
	assert.Equal(t, "c9", s.Shards[1].LastCommit)
	assert.Equal(t, 1000, s.Mined)
}

func TestPrinter_MiningText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p, err := report.NewPrinter(&buf, report.FormatText, false)
	require.NoError(t, err)
	require.NoError(t, p.Mining(report.FromMining("/repo", "out/repo.jsonl", miningStats())))

	out := buf.String()
	assert.Contains(t, out, "mining finished with 1 failed shard(s)")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "3.0 MiB")
	assert.Contains(t, out, "shard stopped")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrinter_ColorIsOptIn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p, err := report.NewPrinter(&buf, report.FormatText, true)
	require.NoError(t, err)
	require.NoError(t, p.Features(report.FeatureSummary{Aggregator: "kamei"}))

	assert.Contains(t, buf.String(), "\x1b[")
}

func TestPrinter_FeaturesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p, err := report.NewPrinter(&buf, report.FormatJSON, false)
	require.NoError(t, err)

	stats := features.RunStats{Aggregator: "vccfinder", Resumed: true, Skipped: 6, Ingested: 4, Emitted: 10, Snapshots: 2}
	require.NoError(t, p.Features(report.FromFeatures("in.jsonl", "out.jsonl", stats)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "vccfinder", got["aggregator"])
	assert.Equal(t, true, got["resumed"])
	assert.InDelta(t, 10, got["emitted"], 0)
}

func TestPrinter_ValidationYAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p, err := report.NewPrinter(&buf, report.FormatYAML, false)
	require.NoError(t, err)

	s := report.ValidationSummary{
		Path:     "commits.jsonl",
		Schema:   "commit",
		Records:  3,
		Invalid:  1,
		Problems: []string{"record 2: commit_id is required"},
	}
	require.False(t, s.OK())
	require.NoError(t, p.Validation(s))

	var got report.ValidationSummary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, s, got)
}

func TestPrinter_ValidationText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	p, err := report.NewPrinter(&buf, "", false)
	require.NoError(t, err)

	require.NoError(t, p.Validation(report.ValidationSummary{Path: "c.jsonl", Records: 2, FirstDate: 86400, LastDate: 172800}))

	out := buf.String()
	assert.Contains(t, out, "stream is valid")
	assert.Contains(t, out, "1970-01-02T00:00:00Z")
}
