// Package dataset implements lazily-evaluated, pull-based record pipelines whose
// iterators can save and restore their position.
//
// A Dataset is an immutable chain of stages (sources, map, repeat). Iteration
// state lives in an Iterator created from the outermost stage. Each stage of
// the iterator contributes one StageState to a checkpoint, nested in chain
// order, outermost first.
package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
)

// Record is one pipeline element.
type Record = tensor.Record

// AdapterState is the checkpointed part of a map function.
type AdapterState = transform.State

// Stage kinds as they appear in a StageState.
const (
	KindTensorSlices = "tensor_slices"
	KindTensors      = "tensors"
	KindRange        = "range"
	KindMap          = "map"
	KindRepeat       = "repeat"
)

// Cardinality values that are not element counts.
const (
	InfiniteCardinality = -1
)

// Checkpoint protocol errors.
var (
	// ErrFailedPrecondition rejects a save because some stage holds state that
	// cannot be serialized.
	ErrFailedPrecondition = errors.New("failed precondition")
	// ErrCorruptState rejects a restore whose state does not fit the pipeline.
	ErrCorruptState = errors.New("corrupt checkpoint state")
)

// Construction errors.
var (
	ErrNoComponents  = errors.New("at least one component is required")
	ErrShapeMismatch = errors.New("components disagree on leading dimension")
	ErrZeroStep      = errors.New("range step must not be zero")
	ErrNilInput      = errors.New("input dataset is nil")
	ErrNilFunction   = errors.New("map function is nil")
)

// Dataset is one stage of a pipeline together with everything upstream of it.
type Dataset interface {
	// Kind returns one of the Kind* constants.
	Kind() string

	// Input returns the upstream stage, or nil for sources.
	Input() Dataset

	// Describe returns a structural description of this stage alone.
	Describe() string

	// Cardinality returns the number of records, or InfiniteCardinality.
	Cardinality() int64

	newIterator() stageIterator
}

// StageState is the checkpoint of one stage and, through Input, of everything upstream.
type StageState struct {
	Kind string `json:"kind"`

	// Cursor counts records emitted for sources and completed epochs for repeat.
	Cursor int64 `json:"cursor"`

	// Exhausted marks a repeat whose input will never be pulled again.
	Exhausted bool `json:"exhausted,omitempty"`

	// EpochHasOutput records whether the current repeat epoch produced a record.
	EpochHasOutput bool `json:"epoch_has_output,omitempty"`

	Adapter *AdapterState `json:"adapter,omitempty"`
	Input   *StageState   `json:"input,omitempty"`
}

// Depth returns the number of stages covered by s.
func (s *StageState) Depth() int {
	n := 0
	for cur := s; cur != nil; cur = cur.Input {
		n++
	}

	return n
}

// SaveOptions controls how stages with external state are handled on save.
type SaveOptions struct {
	// AllowExternalState lets a save proceed past functions holding external
	// mutable captures. Their state is not part of the checkpoint.
	AllowExternalState bool

	// OnExternalState is called for every stage whose external state was skipped.
	OnExternalState func(stage string, err error)
}

type stageIterator interface {
	next(ctx context.Context) (rec Record, ok bool, err error)
	save(opts SaveOptions) (*StageState, error)
	restore(st *StageState) error
}

// Iterator is a live cursor over a Dataset. It is not safe for concurrent use.
type Iterator struct {
	ds      Dataset
	root    stageIterator
	emitted int64
}

// NewIterator starts iterating ds from its first record.
func NewIterator(ds Dataset) *Iterator {
	return &Iterator{ds: ds, root: ds.newIterator()}
}

// RestoreIterator builds an iterator over ds positioned at st. A nil st starts
// from the beginning. emitted is carried over for reporting only.
func RestoreIterator(ds Dataset, st *StageState, emitted int64) (*Iterator, error) {
	it := NewIterator(ds)
	if st == nil {
		return it, nil
	}

	err := it.root.restore(st)
	if err != nil {
		return nil, err
	}

	it.emitted = emitted

	return it, nil
}

// Dataset returns the pipeline this iterator runs.
func (it *Iterator) Dataset() Dataset { return it.ds }

// Emitted returns the number of records produced so far, including those produced
// before the checkpoint this iterator was restored from.
func (it *Iterator) Emitted() int64 { return it.emitted }

// Next produces the next record. ok is false at end of sequence, which is not an error.
func (it *Iterator) Next(ctx context.Context) (Record, bool, error) {
	err := ctx.Err()
	if err != nil {
		return nil, false, fmt.Errorf("next: %w", err)
	}

	rec, ok, err := it.root.next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	it.emitted++

	return rec, true, nil
}

// Save snapshots the iterator without changing it. On error no state is returned
// and the iterator is unaffected.
func (it *Iterator) Save(opts SaveOptions) (*StageState, error) {
	return it.root.save(opts)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptState, fmt.Sprintf(format, args...))
}

func checkKind(st *StageState, want string) error {
	if st == nil {
		return corrupt("missing state for %s stage", want)
	}

	if st.Kind != want {
		return corrupt("state is for a %s stage, pipeline has %s", st.Kind, want)
	}

	return nil
}

// checkSource is checkKind for stages without an upstream.
func checkSource(st *StageState, want string) error {
	err := checkKind(st, want)
	if err != nil {
		return err
	}

	if st.Input != nil {
		return corrupt("%s source state has input state", want)
	}

	return nil
}
