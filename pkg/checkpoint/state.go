// Package checkpoint saves and restores pipeline iterators.
//
// The Coordinator turns a live dataset.Iterator into a versioned State
// envelope and back, applies the external state policy, and converts State
// to and from an opaque byte form. The Manager keeps encoded checkpoints on
// disk, one directory per pipeline fingerprint.
package checkpoint

import (
	"errors"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
)

// StateVersion is the current envelope format version.
const StateVersion = 1

// Protocol errors, shared with the dataset package so callers need only one import.
var (
	ErrFailedPrecondition = dataset.ErrFailedPrecondition
	ErrCorruptState       = dataset.ErrCorruptState
)

// Sentinel errors for envelope validation. Both are reported wrapped in ErrCorruptState.
var (
	ErrUnsupportedVersion  = errors.New("unsupported checkpoint version")
	ErrFingerprintMismatch = errors.New("pipeline fingerprint mismatch")
	ErrNilState            = errors.New("nil checkpoint state")
)

// State is a complete checkpoint of one iterator.
type State struct {
	Version int `json:"version"`

	// Fingerprint identifies the pipeline structure the state was taken from.
	Fingerprint string `json:"fingerprint"`

	// Pipeline is the human-readable form of the same structure.
	Pipeline string `json:"pipeline"`

	// Emitted is the number of records the iterator had produced.
	Emitted int64 `json:"emitted"`

	Root *dataset.StageState `json:"root"`
}

// Depth returns the number of stages in the checkpoint.
func (s *State) Depth() int {
	if s == nil {
		return 0
	}

	return s.Root.Depth()
}

// Metadata describes a checkpoint stored by a Manager.
type Metadata struct {
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Pipeline    string `json:"pipeline"`
	CreatedAt   string `json:"created_at"`
	Emitted     int64  `json:"emitted"`
	Stages      int    `json:"stages"`
	// Codec is the extension of the codec the state file was written with, e.g. ".gob.lz4".
	Codec      string `json:"codec"`
	StateFile  string `json:"state_file"`
	StateBytes int    `json:"state_bytes"`
}
