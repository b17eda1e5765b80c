package dataset

import (
	"context"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
)

// TensorSlicesDataset yields one record per index along the shared leading
// dimension of its components.
type TensorSlicesDataset struct {
	components []*tensor.Dense
	n          int
}

// FromTensorSlices slices every component along its first dimension.
func FromTensorSlices(components ...*tensor.Dense) (*TensorSlicesDataset, error) {
	if len(components) == 0 {
		return nil, ErrNoComponents
	}

	n := -1

	for i, c := range components {
		dim0, err := c.Dim0()
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}

		if n >= 0 && dim0 != n {
			return nil, fmt.Errorf("%w: component %d has %d, want %d", ErrShapeMismatch, i, dim0, n)
		}

		n = dim0
	}

	return &TensorSlicesDataset{components: components, n: n}, nil
}

// Kind implements Dataset.
func (d *TensorSlicesDataset) Kind() string { return KindTensorSlices }

// Input implements Dataset.
func (d *TensorSlicesDataset) Input() Dataset { return nil }

// Describe implements Dataset.
func (d *TensorSlicesDataset) Describe() string {
	return fmt.Sprintf("%s(n=%d,components=%d)", KindTensorSlices, d.n, len(d.components))
}

// Cardinality implements Dataset.
func (d *TensorSlicesDataset) Cardinality() int64 { return int64(d.n) }

func (d *TensorSlicesDataset) newIterator() stageIterator {
	return &tensorSlicesIterator{ds: d}
}

type tensorSlicesIterator struct {
	ds     *TensorSlicesDataset
	cursor int
}

func (it *tensorSlicesIterator) next(_ context.Context) (Record, bool, error) {
	if it.cursor >= it.ds.n {
		return nil, false, nil
	}

	rec := make(Record, len(it.ds.components))

	for i, c := range it.ds.components {
		slice, err := c.Slice(it.cursor)
		if err != nil {
			return nil, false, fmt.Errorf("%s: component %d: %w", KindTensorSlices, i, err)
		}

		rec[i] = slice
	}

	it.cursor++

	return rec, true, nil
}

func (it *tensorSlicesIterator) save(SaveOptions) (*StageState, error) {
	return &StageState{Kind: KindTensorSlices, Cursor: int64(it.cursor)}, nil
}

func (it *tensorSlicesIterator) restore(st *StageState) error {
	err := checkSource(st, KindTensorSlices)
	if err != nil {
		return err
	}

	if st.Cursor < 0 || st.Cursor > int64(it.ds.n) {
		return corrupt("%s cursor %d outside [0, %d]", KindTensorSlices, st.Cursor, it.ds.n)
	}

	it.cursor = int(st.Cursor)

	return nil
}

// TensorsDataset yields its components once, as a single record.
type TensorsDataset struct {
	components Record
}

// FromTensors builds a single-record dataset.
func FromTensors(components ...tensor.Value) (*TensorsDataset, error) {
	if len(components) == 0 {
		return nil, ErrNoComponents
	}

	return &TensorsDataset{components: Record(components)}, nil
}

// Kind implements Dataset.
func (d *TensorsDataset) Kind() string { return KindTensors }

// Input implements Dataset.
func (d *TensorsDataset) Input() Dataset { return nil }

// Describe implements Dataset.
func (d *TensorsDataset) Describe() string {
	return fmt.Sprintf("%s(components=%d)", KindTensors, len(d.components))
}

// Cardinality implements Dataset.
func (d *TensorsDataset) Cardinality() int64 { return 1 }

func (d *TensorsDataset) newIterator() stageIterator {
	return &tensorsIterator{ds: d}
}

type tensorsIterator struct {
	ds   *TensorsDataset
	done bool
}

func (it *tensorsIterator) next(_ context.Context) (Record, bool, error) {
	if it.done {
		return nil, false, nil
	}

	it.done = true

	return append(Record(nil), it.ds.components...), true, nil
}

func (it *tensorsIterator) save(SaveOptions) (*StageState, error) {
	st := &StageState{Kind: KindTensors}
	if it.done {
		st.Cursor = 1
	}

	return st, nil
}

func (it *tensorsIterator) restore(st *StageState) error {
	err := checkSource(st, KindTensors)
	if err != nil {
		return err
	}

	if st.Cursor != 0 && st.Cursor != 1 {
		return corrupt("%s cursor %d outside [0, 1]", KindTensors, st.Cursor)
	}

	it.done = st.Cursor == 1

	return nil
}

// RangeDataset yields int64 scalars start, start+step, ... up to but excluding stop.
type RangeDataset struct {
	start, stop, step int64
}

// Range builds an arithmetic progression dataset.
func Range(start, stop, step int64) (*RangeDataset, error) {
	if step == 0 {
		return nil, ErrZeroStep
	}

	return &RangeDataset{start: start, stop: stop, step: step}, nil
}

// RangeN yields 0, 1, ..., n-1.
func RangeN(n int64) *RangeDataset {
	return &RangeDataset{start: 0, stop: n, step: 1}
}

// Kind implements Dataset.
func (d *RangeDataset) Kind() string { return KindRange }

// Input implements Dataset.
func (d *RangeDataset) Input() Dataset { return nil }

// Describe implements Dataset.
func (d *RangeDataset) Describe() string {
	return fmt.Sprintf("%s(%d,%d,%d)", KindRange, d.start, d.stop, d.step)
}

// Cardinality implements Dataset. The span is taken in uint64 so extreme
// bounds and steps do not wrap.
func (d *RangeDataset) Cardinality() int64 {
	var span, step uint64

	if d.step > 0 {
		if d.stop <= d.start {
			return 0
		}

		span = uint64(d.stop) - uint64(d.start)
		step = uint64(d.step)
	} else {
		if d.start <= d.stop {
			return 0
		}

		span = uint64(d.start) - uint64(d.stop)
		step = -uint64(d.step)
	}

	n := span / step
	if span%step != 0 {
		n++
	}

	if n > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(n)
}

func (d *RangeDataset) newIterator() stageIterator {
	return &rangeIterator{ds: d, length: d.Cardinality()}
}

type rangeIterator struct {
	ds     *RangeDataset
	length int64
	cursor int64
}

func (it *rangeIterator) next(_ context.Context) (Record, bool, error) {
	if it.cursor >= it.length {
		return nil, false, nil
	}

	v := it.ds.start + it.cursor*it.ds.step
	it.cursor++

	return Record{tensor.Scalar(v)}, true, nil
}

func (it *rangeIterator) save(SaveOptions) (*StageState, error) {
	return &StageState{Kind: KindRange, Cursor: it.cursor}, nil
}

func (it *rangeIterator) restore(st *StageState) error {
	err := checkSource(st, KindRange)
	if err != nil {
		return err
	}

	if st.Cursor < 0 || st.Cursor > it.length {
		return corrupt("%s cursor %d outside [0, %d]", KindRange, st.Cursor, it.length)
	}

	it.cursor = st.Cursor

	return nil
}
