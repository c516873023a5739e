// Package checkpoint stores resumable snapshots of feature aggregator runs.
//
// A checkpoint directory holds checkpoint.json (Metadata) and the encoded
// aggregator state. Every snapshot writes its state under a new generation
// name before the metadata is replaced, so the metadata always points at a
// complete state file even if the process dies mid-save.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/defectminer/pkg/persist"
)

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

const (
	metadataFile = "checkpoint.json"
	statePrefix  = "state-"
	dirPerm      = 0o750
)

// Sentinel errors for checkpoint loading.
var (
	ErrNoCheckpoint      = errors.New("no checkpoint")
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	ErrVersionMismatch   = errors.New("checkpoint version mismatch")
)

// Metadata describes a saved aggregator run.
type Metadata struct {
	Version      int    `json:"version"`
	Aggregator   string `json:"aggregator"`
	StateVersion int    `json:"state_version"`
	InputPath    string `json:"input_path"`
	// Ingested counts the input records folded into the saved state.
	Ingested     int    `json:"ingested"`
	LastCommitID string `json:"last_commit_id"`
	// OutputOffset is the size of the feature output when the state was saved.
	OutputOffset int64  `json:"output_offset"`
	StateFile    string `json:"state_file"`
	CreatedAt    string `json:"created_at"`
}

// Key derives a short directory key for an aggregator over an input file.
func Key(aggregator, inputPath string) string {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		abs = inputPath
	}

	h := sha256.Sum256([]byte(abs))

	return aggregator + "-" + hex.EncodeToString(h[:8])
}

// Manager reads and writes the checkpoint of one run.
type Manager struct {
	BaseDir string
	Key     string
	Codec   persist.Codec
}

// NewManager creates a manager. A nil codec selects JSON.
func NewManager(baseDir, key string, codec persist.Codec) *Manager {
	if codec == nil {
		codec = persist.NewJSONCodec()
	}

	return &Manager{BaseDir: baseDir, Key: key, Codec: codec}
}

// CheckpointDir returns the directory of this run's checkpoint.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.Key)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.CheckpointDir(), metadataFile)
}

// Exists reports whether a checkpoint has been saved.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes the checkpoint.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.CheckpointDir())
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// LoadMetadata reads checkpoint.json.
func (m *Manager) LoadMetadata() (Metadata, error) {
	data, err := os.ReadFile(m.MetadataPath())
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, ErrNoCheckpoint
	}

	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata

	unmarshalErr := json.Unmarshal(data, &meta)
	if unmarshalErr != nil {
		return Metadata{}, fmt.Errorf("%w: metadata: %w", ErrCorruptCheckpoint, unmarshalErr)
	}

	return meta, nil
}

// Save writes state and then meta. Version, StateFile and CreatedAt are
// filled in by Save. Older state generations are removed afterwards.
func Save[S any](m *Manager, meta Metadata, state S) error {
	dir := m.CheckpointDir()

	mkdirErr := os.MkdirAll(dir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create checkpoint dir: %w", mkdirErr)
	}

	generation := fmt.Sprintf("%s%012d", statePrefix, meta.Ingested)

	states := persist.NewPersister[S](generation, m.Codec)

	saveErr := states.Save(dir, func() *S { return &state })
	if saveErr != nil {
		return fmt.Errorf("save state: %w", saveErr)
	}

	meta.Version = MetadataVersion
	meta.StateFile = filepath.Base(states.Path(dir))
	meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	writeErr := persist.WriteAtomic(m.MetadataPath(), func(f *os.File) error {
		_, werr := f.Write(data)

		return werr
	})
	if writeErr != nil {
		return fmt.Errorf("write metadata: %w", writeErr)
	}

	m.prune(meta.StateFile)

	return nil
}

// prune removes state generations other than keep. Failures are harmless.
func (m *Manager) prune(keep string) {
	matches, err := filepath.Glob(filepath.Join(m.CheckpointDir(), statePrefix+"*"))
	if err != nil {
		return
	}

	for _, path := range matches {
		if filepath.Base(path) != keep {
			os.Remove(path)
		}
	}
}

// Load reads the checkpoint of aggregator at stateVersion. It returns
// ErrNoCheckpoint when nothing was saved, ErrVersionMismatch when the
// checkpoint was written by another aggregator or state version, and
// ErrCorruptCheckpoint when the files cannot be decoded.
func Load[S any](m *Manager, aggregator string, stateVersion int) (Metadata, S, error) {
	var state S

	meta, err := m.LoadMetadata()
	if err != nil {
		return Metadata{}, state, err
	}

	switch {
	case meta.Version != MetadataVersion:
		return meta, state, fmt.Errorf("%w: metadata version %d, want %d", ErrVersionMismatch, meta.Version, MetadataVersion)
	case meta.Aggregator != aggregator:
		return meta, state, fmt.Errorf("%w: aggregator %q, want %q", ErrVersionMismatch, meta.Aggregator, aggregator)
	case meta.StateVersion != stateVersion:
		return meta, state, fmt.Errorf("%w: state version %d, want %d", ErrVersionMismatch, meta.StateVersion, stateVersion)
	case meta.StateFile == "":
		return meta, state, fmt.Errorf("%w: no state file recorded", ErrCorruptCheckpoint)
	case !strings.HasSuffix(meta.StateFile, m.Codec.Extension()):
		return meta, state, fmt.Errorf("%w: state %s was written by another codec", ErrVersionMismatch, meta.StateFile)
	}

	basename := strings.TrimSuffix(meta.StateFile, m.Codec.Extension())

	loadErr := persist.NewPersister[S](basename, m.Codec).Load(m.CheckpointDir(), func(s *S) error {
		state = *s

		return nil
	})
	if loadErr != nil {
		return meta, state, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, loadErr)
	}

	return meta, state, nil
}
