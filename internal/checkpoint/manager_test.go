package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/defectminer/internal/checkpoint"
	"github.com/Sumatoshi-tech/defectminer/pkg/persist"
)

type counterState struct {
	Counts map[string]int `json:"counts"`
	Order  []string       `json:"order"`
}

func TestKey_StablePerInput(t *testing.T) {
	t.Parallel()

	a := checkpoint.Key("kamei", "/data/commits.jsonl")
	b := checkpoint.Key("kamei", "/data/commits.jsonl")
	c := checkpoint.Key("vccfinder", "/data/commits.jsonl")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^kamei-[0-9a-f]{16}$`, a)
}

func TestManager_LoadWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	m := checkpoint.NewManager(t.TempDir(), "k", nil)

	assert.False(t, m.Exists())

	_, _, err := checkpoint.Load[counterState](m, "kamei", 1)
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestManager_SaveLoad(t *testing.T) {
	t.Parallel()

	for _, codec := range []persist.Codec{persist.NewJSONCodec(), persist.NewGobCodec()} {
		t.Run(codec.Extension(), func(t *testing.T) {
			t.Parallel()

			m := checkpoint.NewManager(t.TempDir(), "k", codec)

			first := counterState{Counts: map[string]int{"a": 1}, Order: []string{"a"}}
			require.NoError(t, checkpoint.Save(m, checkpoint.Metadata{
				Aggregator: "kamei", StateVersion: 2, InputPath: "in.jsonl", Ingested: 1, LastCommitID: "c1", OutputOffset: 10,
			}, first))

			second := counterState{Counts: map[string]int{"a": 1, "b": 2}, Order: []string{"a", "b"}}
			require.NoError(t, checkpoint.Save(m, checkpoint.Metadata{
				Aggregator: "kamei", StateVersion: 2, InputPath: "in.jsonl", Ingested: 3, LastCommitID: "c3", OutputOffset: 30,
			}, second))

			assert.True(t, m.Exists())

			meta, state, err := checkpoint.Load[counterState](m, "kamei", 2)
			require.NoError(t, err)
			assert.Equal(t, second, state)
			assert.Equal(t, checkpoint.MetadataVersion, meta.Version)
			assert.Equal(t, 3, meta.Ingested)
			assert.Equal(t, "c3", meta.LastCommitID)
			assert.Equal(t, int64(30), meta.OutputOffset)
			assert.NotEmpty(t, meta.CreatedAt)

			states, err := filepath.Glob(filepath.Join(m.CheckpointDir(), "state-*"))
			require.NoError(t, err)
			assert.Len(t, states, 1)
		})
	}
}

func TestManager_VersionMismatch(t *testing.T) {
	t.Parallel()

	m := checkpoint.NewManager(t.TempDir(), "k", nil)
	require.NoError(t, checkpoint.Save(m, checkpoint.Metadata{Aggregator: "kamei", StateVersion: 1}, counterState{}))

	_, _, err := checkpoint.Load[counterState](m, "kamei", 2)
	require.ErrorIs(t, err, checkpoint.ErrVersionMismatch)

	_, _, err = checkpoint.Load[counterState](m, "vccfinder", 1)
	require.ErrorIs(t, err, checkpoint.ErrVersionMismatch)

	gob := checkpoint.NewManager(m.BaseDir, m.Key, persist.NewGobCodec())
	_, _, err = checkpoint.Load[counterState](gob, "kamei", 1)
	require.ErrorIs(t, err, checkpoint.ErrVersionMismatch)
}

func TestManager_Corrupt(t *testing.T) {
	t.Parallel()

	m := checkpoint.NewManager(t.TempDir(), "k", nil)
	require.NoError(t, checkpoint.Save(m, checkpoint.Metadata{Aggregator: "kamei", StateVersion: 1}, counterState{}))

	meta, err := m.LoadMetadata()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.CheckpointDir(), meta.StateFile), []byte("{not json"), 0o600))

	_, _, err = checkpoint.Load[counterState](m, "kamei", 1)
	require.ErrorIs(t, err, checkpoint.ErrCorruptCheckpoint)

	require.NoError(t, os.WriteFile(m.MetadataPath(), []byte("]"), 0o600))

	_, _, err = checkpoint.Load[counterState](m, "kamei", 1)
	require.ErrorIs(t, err, checkpoint.ErrCorruptCheckpoint)
}

func TestManager_Clear(t *testing.T) {
	t.Parallel()

	m := checkpoint.NewManager(t.TempDir(), "k", nil)
	require.NoError(t, checkpoint.Save(m, checkpoint.Metadata{Aggregator: "kamei"}, counterState{}))
	require.NoError(t, m.Clear())

	assert.False(t, m.Exists())
	require.NoError(t, m.Clear())
}
