package verify

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
)

// session is one built pipeline with its own registry and a live iterator.
type session struct {
	reg *transform.Registry
	it  *dataset.Iterator
}

func (s *session) close() {
	_ = s.reg.Close()
}

// start builds the pipeline against a new registry and restores st into it.
func (h *Harness) start(ctx context.Context, build Builder, st *checkpoint.State) (*session, error) {
	reg := transform.NewRegistry()

	ds, err := build(reg)
	if err != nil {
		_ = reg.Close()

		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	it, err := h.coord.Restore(ctx, ds, st)
	if err != nil {
		_ = reg.Close()

		return nil, err
	}

	return &session{reg: reg, it: it}, nil
}

// resume checkpoints s, tears it down, and continues from the checkpoint on a
// rebuilt pipeline. s is closed whatever the outcome.
func (h *Harness) resume(ctx context.Context, build Builder, s *session) (*session, error) {
	st, err := h.coord.Save(ctx, s.it)
	s.close()

	if err != nil {
		return nil, err
	}

	st, err = h.roundTrip(ctx, st)
	if err != nil {
		return nil, err
	}

	return h.start(ctx, build, st)
}

// roundTrip passes st through its byte form, in memory or on disk.
func (h *Harness) roundTrip(ctx context.Context, st *checkpoint.State) (*checkpoint.State, error) {
	if h.dir != "" {
		m := checkpoint.NewManager(h.dir, st.Fingerprint, h.coord)

		err := m.Save(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("persist checkpoint: %w", err)
		}

		return m.Load(ctx)
	}

	data, err := h.coord.Encode(ctx, st)
	if err != nil {
		return nil, err
	}

	return h.coord.Decode(ctx, data)
}

// readChunk bounds up-front allocation for large read limits.
const readChunk = 1024

// readExactly pulls n records; ending early is ErrUnexpectedEnd.
func readExactly(ctx context.Context, it *dataset.Iterator, n int) ([]dataset.Record, error) {
	out, err := readUpTo(ctx, it, n)
	if err != nil {
		return out, err
	}

	if len(out) < n {
		return out, fmt.Errorf("%w after %d of %d records", ErrUnexpectedEnd, len(out), n)
	}

	return out, nil
}

// readUpTo pulls at most n records, stopping quietly at end of sequence.
func readUpTo(ctx context.Context, it *dataset.Iterator, n int) ([]dataset.Record, error) {
	out := make([]dataset.Record, 0, min(n, readChunk))

	for range n {
		rec, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}

		if !ok {
			break
		}

		out = append(out, rec)
	}

	return out, nil
}

// drain reads the rest of the sequence, which must end within limit records;
// running past it is ErrMissingEnd.
func drain(ctx context.Context, it *dataset.Iterator, limit int) ([]dataset.Record, error) {
	out, err := readUpTo(ctx, it, limit)
	if err != nil || len(out) < limit {
		return out, err
	}

	return out, expectEnd(ctx, it)
}

func expectEnd(ctx context.Context, it *dataset.Iterator) error {
	rec, ok, err := it.Next(ctx)
	if err != nil {
		return err
	}

	if ok {
		return fmt.Errorf("%w, got %s after %d records", ErrMissingEnd, rec, it.Emitted()-1)
	}

	return nil
}
