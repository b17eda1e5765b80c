package dataset

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
)

// MapDataset applies a transform function to every upstream record.
type MapDataset struct {
	input   Dataset
	adapter *transform.Adapter
}

// Map wraps input with fn. Whether fn can be checkpointed is only decided when
// a save is attempted.
func Map(input Dataset, fn *transform.Function) (*MapDataset, error) {
	if input == nil {
		return nil, ErrNilInput
	}

	if fn == nil {
		return nil, ErrNilFunction
	}

	return &MapDataset{input: input, adapter: transform.NewAdapter(fn)}, nil
}

// Kind implements Dataset.
func (d *MapDataset) Kind() string { return KindMap }

// Input implements Dataset.
func (d *MapDataset) Input() Dataset { return d.input }

// Describe implements Dataset.
func (d *MapDataset) Describe() string {
	return fmt.Sprintf("%s(%s)", KindMap, d.adapter.Function().Signature())
}

// Cardinality implements Dataset.
func (d *MapDataset) Cardinality() int64 { return d.input.Cardinality() }

// Name identifies the stage in errors and logs.
func (d *MapDataset) Name() string {
	return KindMap + "(" + d.adapter.Function().Name() + ")"
}

func (d *MapDataset) newIterator() stageIterator {
	return &mapIterator{ds: d, input: d.input.newIterator()}
}

type mapIterator struct {
	ds    *MapDataset
	input stageIterator
}

func (it *mapIterator) next(ctx context.Context) (Record, bool, error) {
	rec, ok, err := it.input.next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	out, err := it.ds.adapter.Apply(rec)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", it.ds.Name(), err)
	}

	return out, true, nil
}

func (it *mapIterator) save(opts SaveOptions) (*StageState, error) {
	inputState, err := it.input.save(opts)
	if err != nil {
		return nil, err
	}

	checkErr := it.ds.adapter.CheckSerializable()
	if checkErr != nil {
		if !opts.AllowExternalState {
			return nil, fmt.Errorf("%w: %s: %w", ErrFailedPrecondition, it.ds.Name(), checkErr)
		}

		if opts.OnExternalState != nil {
			opts.OnExternalState(it.ds.Name(), checkErr)
		}
	}

	adapterState := it.ds.adapter.State()

	return &StageState{Kind: KindMap, Adapter: &adapterState, Input: inputState}, nil
}

func (it *mapIterator) restore(st *StageState) error {
	err := checkKind(st, KindMap)
	if err != nil {
		return err
	}

	if st.Adapter == nil {
		return corrupt("%s state has no function state", it.ds.Name())
	}

	restoreErr := it.ds.adapter.Restore(*st.Adapter)
	if restoreErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptState, it.ds.Name(), restoreErr)
	}

	return it.input.restore(st.Input)
}
