package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
)

// File names inside a checkpoint directory.
const (
	metadataBasename = "checkpoint"
	stateBasename    = "state"
)

// Directory permissions for checkpoints.
const dirPerm = 0o750

// ErrNoCheckpoint is returned by Load when nothing has been saved yet.
var ErrNoCheckpoint = errors.New("no checkpoint")

var metadataPersister = persist.NewPersister[Metadata](metadataBasename, persist.NewJSONCodec())

// DefaultDir returns the default checkpoint directory (~/.pipeckpt/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".pipeckpt", "checkpoints")
}

// Manager keeps the latest checkpoint of one pipeline on disk under
// BaseDir/Fingerprint, as a checkpoint.json metadata file next to the
// encoded state.
type Manager struct {
	BaseDir     string
	Fingerprint string

	coord *Coordinator
}

// NewManager creates a manager for the pipeline with the given fingerprint.
// State files are written with coord's codec.
func NewManager(baseDir, fingerprint string, coord *Coordinator) *Manager {
	return &Manager{
		BaseDir:     baseDir,
		Fingerprint: fingerprint,
		coord:       coord,
	}
}

// CheckpointDir returns the directory for this pipeline's checkpoint.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.Fingerprint)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return metadataPersister.Path(m.CheckpointDir())
}

// StatePath returns the path to the encoded state file.
func (m *Manager) StatePath() string {
	return persist.StatePath(m.CheckpointDir(), stateBasename, m.coord.Codec())
}

// Exists returns true if a checkpoint has been saved.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes the checkpoint for this pipeline.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.CheckpointDir())
	if err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Save encodes st and replaces any previous checkpoint. The state file is
// written before the metadata, so Exists never reports a checkpoint whose
// state is missing.
func (m *Manager) Save(ctx context.Context, st *State) error {
	if st == nil {
		return ErrNilState
	}

	if st.Fingerprint != m.Fingerprint {
		return fmt.Errorf("%w: %w: state has %s, manager has %s",
			ErrCorruptState, ErrFingerprintMismatch, st.Fingerprint, m.Fingerprint)
	}

	cpDir := m.CheckpointDir()

	err := os.MkdirAll(cpDir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := m.coord.Encode(ctx, st)
	if err != nil {
		return err
	}

	statePath := m.StatePath()

	writeErr := persist.WriteFileAtomic(statePath, data)
	if writeErr != nil {
		return writeErr
	}

	meta := Metadata{
		Version:     StateVersion,
		Fingerprint: st.Fingerprint,
		Pipeline:    st.Pipeline,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Emitted:     st.Emitted,
		Stages:      st.Depth(),
		Codec:       m.coord.Codec().Extension(),
		StateFile:   filepath.Base(statePath),
		StateBytes:  len(data),
	}

	err = metadataPersister.Save(cpDir, &meta)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// LoadMetadata loads the checkpoint metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	return ReadMetadata(m.CheckpointDir())
}

// ReadMetadata loads the metadata of the checkpoint stored in dir.
func ReadMetadata(dir string) (*Metadata, error) {
	meta, err := metadataPersister.Load(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
		}

		return nil, fmt.Errorf("read metadata: %w", err)
	}

	return meta, nil
}

// Load validates and decodes the stored checkpoint.
func (m *Manager) Load(ctx context.Context) (*State, error) {
	meta, err := m.validate()
	if err != nil {
		return nil, err
	}

	if meta.Codec != m.coord.Codec().Extension() {
		return nil, fmt.Errorf("%w: state written as %s, coordinator reads %s",
			ErrCorruptState, meta.Codec, m.coord.Codec().Extension())
	}

	data, err := os.ReadFile(filepath.Join(m.CheckpointDir(), meta.StateFile))
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	st, err := m.coord.Decode(ctx, data)
	if err != nil {
		return nil, err
	}

	if st.Fingerprint != m.Fingerprint {
		return nil, fmt.Errorf("%w: %w: state file has %s", ErrCorruptState, ErrFingerprintMismatch, st.Fingerprint)
	}

	return st, nil
}

// Validate checks that the stored checkpoint belongs to this pipeline.
func (m *Manager) Validate() error {
	_, err := m.validate()

	return err
}

func (m *Manager) validate() (*Metadata, error) {
	meta, err := m.LoadMetadata()
	if err != nil {
		return nil, err
	}

	if meta.Version != StateVersion {
		return nil, fmt.Errorf("%w: %w: %d", ErrCorruptState, ErrUnsupportedVersion, meta.Version)
	}

	if meta.Fingerprint != m.Fingerprint {
		return nil, fmt.Errorf("%w: %w: checkpoint has %q, got %q",
			ErrCorruptState, ErrFingerprintMismatch, meta.Fingerprint, m.Fingerprint)
	}

	return meta, nil
}
