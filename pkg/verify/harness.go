// Package verify runs the checkpoint conformance protocol against a pipeline.
//
// A pipeline is described by a Builder so that every restore can happen on a
// freshly built pipeline with a fresh resource registry, the way a restarted
// process would see it.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/observability"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
)

// Harness errors.
var (
	ErrOutputMismatch = errors.New("output mismatch")
	ErrUnexpectedEnd  = errors.New("unexpected end of sequence")
	ErrMissingEnd     = errors.New("expected end of sequence")
	ErrSaveSucceeded  = errors.New("save succeeded, expected an error")
)

// Check names, in the order RunCoreTests runs them.
const (
	CheckUnused          = "unused iterator"
	CheckFullyUsed       = "fully used iterator"
	CheckExhausted       = "exhausted iterator"
	CheckEmptyRestore    = "empty restore"
	CheckMultipleBreaks  = "multiple breaks"
	CheckSingleBreaks    = "single breaks"
	CheckResetRestored   = "reset restored iterator"
	CheckErrorOnSave     = "error on save"
	checkReferenceOutput = "reference output"
)

// Builder builds a fresh pipeline whose resources live in reg.
type Builder func(reg *transform.Registry) (dataset.Dataset, error)

// Options configures a Harness.
type Options struct {
	// Name labels the report and log lines.
	Name string

	// Coordinator performs every save, restore and byte round trip.
	// Defaults to a coordinator with the fail policy.
	Coordinator *checkpoint.Coordinator

	// CheckpointDir, when set, sends every round trip through a
	// checkpoint.Manager rooted there instead of memory.
	CheckpointDir string

	// MaxRecords caps reads whose length is not known up front, so a
	// pipeline that never ends fails with ErrMissingEnd. Defaults to 1<<20.
	MaxRecords int

	Logger  *slog.Logger
	Metrics *observability.CheckpointMetrics
}

const defaultMaxRecords = 1 << 20

// Harness runs conformance checks. It is safe to reuse across pipelines but
// not for concurrent runs sharing a CheckpointDir.
type Harness struct {
	name       string
	coord      *checkpoint.Coordinator
	dir        string
	maxRecords int
	logger     *slog.Logger
	metrics    *observability.CheckpointMetrics
}

// New creates a Harness from opts.
func New(opts Options) *Harness {
	h := &Harness{
		name:       opts.Name,
		coord:      opts.Coordinator,
		dir:        opts.CheckpointDir,
		maxRecords: opts.MaxRecords,
		logger:     observability.LoggerOrDiscard(opts.Logger),
		metrics:    opts.Metrics,
	}

	if h.maxRecords <= 0 {
		h.maxRecords = defaultMaxRecords
	}

	if h.coord == nil {
		h.coord = checkpoint.NewCoordinator(checkpoint.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}

	if h.metrics == nil {
		h.metrics = observability.NoopCheckpointMetrics()
	}

	if h.name != "" {
		h.logger = h.logger.With(observability.AttrScenario, h.name)
	}

	return h
}

// RunCoreTests runs every core check against build, which must produce exactly
// numOutputs records. All checks run even when one fails; the returned error
// joins every failure.
func (h *Harness) RunCoreTests(ctx context.Context, build Builder, numOutputs int) (*Report, error) {
	report := &Report{Scenario: h.name, Expected: numOutputs}

	expected, err := h.reference(ctx, build, numOutputs)
	if err != nil {
		report.add(CheckResult{Name: checkReferenceOutput, err: err})

		return report, report.Err()
	}

	checks := []struct {
		name string
		run  func(context.Context, Builder, []dataset.Record) (int64, error)
	}{
		{CheckUnused, h.checkUnused},
		{CheckFullyUsed, h.checkFullyUsed},
		{CheckExhausted, h.checkExhausted},
		{CheckEmptyRestore, h.checkEmptyRestore},
		{CheckMultipleBreaks, h.checkMultipleBreaks},
		{CheckSingleBreaks, h.checkSingleBreaks},
		{CheckResetRestored, h.checkResetRestored},
	}

	for _, c := range checks {
		start := time.Now()
		records, checkErr := c.run(ctx, build, expected)
		report.add(h.result(ctx, c.name, records, time.Since(start), checkErr))
	}

	return report, report.Err()
}

// VerifyErrorOnSave pulls up to k records, expects a save to fail with an
// error matching wantErr, then expects the same iterator to keep producing
// what an uninterrupted run would.
func (h *Harness) VerifyErrorOnSave(ctx context.Context, build Builder, k int, wantErr error) (*Report, error) {
	report := &Report{Scenario: h.name, Expected: k}

	start := time.Now()
	records, err := h.checkErrorOnSave(ctx, build, k, wantErr)
	report.add(h.result(ctx, CheckErrorOnSave, records, time.Since(start), err))

	return report, report.Err()
}

func (h *Harness) result(ctx context.Context, name string, records int64, elapsed time.Duration, err error) CheckResult {
	res := CheckResult{Name: name, Records: records, Duration: elapsed, err: err}

	h.metrics.RecordRecords(ctx, h.name, records)

	if err != nil {
		h.logger.ErrorContext(ctx, "check failed", "check", name, "error", err)
	} else {
		h.logger.InfoContext(ctx, "check passed", "check", name, "records", records, "duration", elapsed)
	}

	return res
}

// reference reads one uninterrupted run of exactly numOutputs records.
func (h *Harness) reference(ctx context.Context, build Builder, numOutputs int) ([]dataset.Record, error) {
	s, err := h.start(ctx, build, nil)
	if err != nil {
		return nil, err
	}
	defer s.close()

	recs, err := readUpTo(ctx, s.it, numOutputs)
	if err != nil {
		return nil, err
	}

	if len(recs) < numOutputs {
		return nil, fmt.Errorf("%w: pipeline produced %d records, want %d", ErrOutputMismatch, len(recs), numOutputs)
	}

	endErr := expectEnd(ctx, s.it)
	if errors.Is(endErr, ErrMissingEnd) {
		return nil, fmt.Errorf("%w: pipeline produced more than %d records: %w", ErrOutputMismatch, numOutputs, endErr)
	}

	if endErr != nil {
		return nil, endErr
	}

	return recs, nil
}

func (h *Harness) checkUnused(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}

	s, err = h.resume(ctx, build, s)
	if err != nil {
		return 0, err
	}
	defer s.close()

	got, err := readExactly(ctx, s.it, len(expected))
	if err != nil {
		return int64(len(got)), err
	}

	return int64(len(got)), errors.Join(expectEnd(ctx, s.it), compare(expected, got))
}

func (h *Harness) checkFullyUsed(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}

	got, err := readExactly(ctx, s.it, len(expected))
	if err != nil {
		s.close()

		return int64(len(got)), err
	}

	s, err = h.resume(ctx, build, s)
	if err != nil {
		return int64(len(got)), err
	}
	defer s.close()

	return int64(len(got)), errors.Join(compare(expected, got), expectEnd(ctx, s.it))
}

func (h *Harness) checkExhausted(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}

	got, err := readExactly(ctx, s.it, len(expected))
	if err == nil {
		err = expectEnd(ctx, s.it)
	}

	if err != nil {
		s.close()

		return int64(len(got)), err
	}

	s, err = h.resume(ctx, build, s)
	if err != nil {
		return int64(len(got)), err
	}
	defer s.close()

	// End of sequence survives the round trip and stays sticky.
	return int64(len(got)), errors.Join(expectEnd(ctx, s.it), expectEnd(ctx, s.it))
}

func (h *Harness) checkEmptyRestore(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}
	defer s.close()

	got, err := readExactly(ctx, s.it, len(expected))
	if err != nil {
		return int64(len(got)), err
	}

	return int64(len(got)), errors.Join(expectEnd(ctx, s.it), compare(expected, got))
}

func (h *Harness) checkMultipleBreaks(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	n := len(expected)

	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}

	var (
		got  []dataset.Record
		prev int
	)

	for _, b := range breakPoints(n) {
		chunk, readErr := readExactly(ctx, s.it, b-prev)
		got = append(got, chunk...)

		if readErr != nil {
			s.close()

			return int64(len(got)), fmt.Errorf("before break at %d: %w", b, readErr)
		}

		s, err = h.resume(ctx, build, s)
		if err != nil {
			return int64(len(got)), fmt.Errorf("break at %d: %w", b, err)
		}

		prev = b
	}
	defer s.close()

	rest, err := readExactly(ctx, s.it, n-prev)
	got = append(got, rest...)

	if err != nil {
		return int64(len(got)), err
	}

	return int64(len(got)), errors.Join(expectEnd(ctx, s.it), compare(expected, got))
}

func (h *Harness) checkSingleBreaks(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	n := len(expected)

	var (
		total int64
		errs  []error
	)

	for _, k := range append(breakPoints(n), n+1) {
		records, err := h.singleBreak(ctx, build, expected, k)
		total += records

		if err != nil {
			errs = append(errs, fmt.Errorf("break at %d: %w", k, err))
		}
	}

	return total, errors.Join(errs...)
}

// singleBreak reads k records (or to the end when k is past it), saves,
// restores on a rebuilt pipeline and drains the rest.
func (h *Harness) singleBreak(ctx context.Context, build Builder, expected []dataset.Record, k int) (int64, error) {
	n := len(expected)

	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}

	got, err := readExactly(ctx, s.it, min(k, n))
	if err == nil && k > n {
		err = expectEnd(ctx, s.it)
	}

	if err != nil {
		s.close()

		return int64(len(got)), err
	}

	s, err = h.resume(ctx, build, s)
	if err != nil {
		return int64(len(got)), err
	}
	defer s.close()

	rest, err := drain(ctx, s.it, n-len(got))
	got = append(got, rest...)

	if err != nil {
		return int64(len(got)), err
	}

	return int64(len(got)), compare(expected, got)
}

func (h *Harness) checkResetRestored(ctx context.Context, build Builder, expected []dataset.Record) (int64, error) {
	n := len(expected)

	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}

	head, err := readExactly(ctx, s.it, n/2)
	if err != nil {
		s.close()

		return int64(len(head)), err
	}

	s, err = h.resume(ctx, build, s)
	if err != nil {
		return int64(len(head)), err
	}

	tail, err := readExactly(ctx, s.it, n-n/2)
	if err == nil {
		err = expectEnd(ctx, s.it)
	}

	s.close()

	if err != nil {
		return int64(len(head) + len(tail)), err
	}

	// A fresh iterator after the restored one ran out starts over.
	fresh, err := h.start(ctx, build, nil)
	if err != nil {
		return int64(len(head) + len(tail)), err
	}
	defer fresh.close()

	again, err := readExactly(ctx, fresh.it, n)
	records := int64(len(head) + len(tail) + len(again))

	if err != nil {
		return records, err
	}

	return records, errors.Join(
		compare(expected, slices.Concat(head, tail)),
		expectEnd(ctx, fresh.it),
		compare(expected, again),
	)
}

func (h *Harness) checkErrorOnSave(ctx context.Context, build Builder, k int, wantErr error) (int64, error) {
	s, err := h.start(ctx, build, nil)
	if err != nil {
		return 0, err
	}
	defer s.close()

	head, err := readUpTo(ctx, s.it, k)
	if err != nil {
		return int64(len(head)), err
	}

	st, saveErr := h.coord.Save(ctx, s.it)
	if saveErr == nil {
		return int64(len(head)), fmt.Errorf("%w after %d records (fingerprint %s)", ErrSaveSucceeded, len(head), st.Fingerprint)
	}

	if !errors.Is(saveErr, wantErr) {
		return int64(len(head)), fmt.Errorf("save failed with %w, want %w", saveErr, wantErr)
	}

	h.logger.DebugContext(ctx, "save rejected as expected", "error", saveErr)

	// The rejected save must not disturb the iterator.
	ref, err := h.start(ctx, build, nil)
	if err != nil {
		return int64(len(head)), err
	}
	defer ref.close()

	want, err := drain(ctx, ref.it, h.maxRecords)
	if err != nil {
		return int64(len(head)), fmt.Errorf("reference run: %w", err)
	}

	tail, err := drain(ctx, s.it, max(len(want)-len(head), 0))
	if err != nil {
		return int64(len(head) + len(tail)), err
	}

	return int64(len(head) + len(tail)), compare(want, slices.Concat(head, tail))
}

// breakPoints returns {0, n/4, n/2, 3n/4, n}, sorted and deduplicated.
func breakPoints(n int) []int {
	points := []int{0, n / 4, n / 2, 3 * n / 4, n}
	slices.Sort(points)

	return slices.Compact(points)
}
