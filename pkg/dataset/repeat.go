package dataset

import (
	"context"
	"fmt"
	"math"
)

// RepeatDataset replays its input count times, or forever when count is negative.
type RepeatDataset struct {
	input Dataset
	count int64
}

// Repeat wraps input. A negative count repeats indefinitely; zero yields nothing.
func Repeat(input Dataset, count int64) (*RepeatDataset, error) {
	if input == nil {
		return nil, ErrNilInput
	}

	return &RepeatDataset{input: input, count: count}, nil
}

// Kind implements Dataset.
func (d *RepeatDataset) Kind() string { return KindRepeat }

// Input implements Dataset.
func (d *RepeatDataset) Input() Dataset { return d.input }

// Describe implements Dataset.
func (d *RepeatDataset) Describe() string {
	return fmt.Sprintf("%s(%d)", KindRepeat, d.count)
}

// Cardinality implements Dataset.
func (d *RepeatDataset) Cardinality() int64 {
	in := d.input.Cardinality()

	switch {
	case d.count == 0 || in == 0:
		return 0
	case d.count < 0 || in == InfiniteCardinality:
		return InfiniteCardinality
	case in > math.MaxInt64/d.count:
		return math.MaxInt64
	}

	return in * d.count
}

func (d *RepeatDataset) infinite() bool { return d.count < 0 }

func (d *RepeatDataset) newIterator() stageIterator {
	it := &repeatIterator{ds: d}
	if d.count != 0 {
		it.input = d.input.newIterator()
	}

	return it
}

type repeatIterator struct {
	ds *RepeatDataset

	// input is nil once every epoch has been consumed.
	input          stageIterator
	epoch          int64
	epochHasOutput bool
}

func (it *repeatIterator) next(ctx context.Context) (Record, bool, error) {
	for it.input != nil {
		rec, ok, err := it.input.next(ctx)
		if err != nil {
			return nil, false, err
		}

		if ok {
			it.epochHasOutput = true

			return rec, true, nil
		}

		it.epoch++

		// An epoch without output means every further epoch is empty too.
		if !it.epochHasOutput || (!it.ds.infinite() && it.epoch >= it.ds.count) {
			it.input = nil

			break
		}

		it.input = it.ds.input.newIterator()
		it.epochHasOutput = false
	}

	return nil, false, nil
}

func (it *repeatIterator) save(opts SaveOptions) (*StageState, error) {
	st := &StageState{
		Kind:           KindRepeat,
		Cursor:         it.epoch,
		Exhausted:      it.input == nil,
		EpochHasOutput: it.epochHasOutput,
	}

	if it.input != nil {
		inputState, err := it.input.save(opts)
		if err != nil {
			return nil, err
		}

		st.Input = inputState
	}

	return st, nil
}

func (it *repeatIterator) restore(st *StageState) error {
	err := checkKind(st, KindRepeat)
	if err != nil {
		return err
	}

	if st.Cursor < 0 || (!it.ds.infinite() && st.Cursor > it.ds.count) {
		return corrupt("%s epoch %d outside [0, %d]", KindRepeat, st.Cursor, it.ds.count)
	}

	if st.Exhausted {
		if st.Input != nil {
			return corrupt("exhausted %s state carries input state", KindRepeat)
		}

		it.input = nil
		it.epoch = st.Cursor
		it.epochHasOutput = st.EpochHasOutput

		return nil
	}

	if !it.ds.infinite() && st.Cursor >= it.ds.count {
		return corrupt("%s epoch %d has no input left", KindRepeat, st.Cursor)
	}

	input := it.ds.input.newIterator()

	restoreErr := input.restore(st.Input)
	if restoreErr != nil {
		return restoreErr
	}

	it.input = input
	it.epoch = st.Cursor
	it.epochHasOutput = st.EpochHasOutput

	return nil
}
