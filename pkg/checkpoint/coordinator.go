package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/observability"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
)

const tracerName = "pipeckpt/checkpoint"

// Failure reasons recorded on metrics and span status.
const (
	reasonFailedPrecondition  = "failed_precondition"
	reasonUnsupportedVersion  = "unsupported_version"
	reasonFingerprintMismatch = "fingerprint_mismatch"
	reasonCorruptState        = "corrupt_state"
	reasonCanceled            = "canceled"
	reasonInternal            = "internal"
)

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	// Codec encodes State to bytes. Defaults to LZ4-framed gob.
	Codec persist.Codec

	// Policy handles external mutable state on save. Defaults to PolicyFail.
	Policy ExternalStatePolicy

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *observability.CheckpointMetrics
}

// Coordinator saves, restores, encodes and decodes iterator checkpoints.
// It holds no per-iterator state and is safe for concurrent use.
type Coordinator struct {
	codec   persist.Codec
	policy  ExternalStatePolicy
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.CheckpointMetrics
}

// NewCoordinator creates a Coordinator from opts.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		codec:   opts.Codec,
		policy:  opts.Policy,
		logger:  observability.LoggerOrDiscard(opts.Logger),
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
	}

	if c.codec == nil {
		c.codec = persist.NewLZ4Codec(persist.NewGobCodec())
	}

	if c.policy == "" {
		c.policy = PolicyFail
	}

	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	if c.metrics == nil {
		c.metrics = observability.NoopCheckpointMetrics()
	}

	return c
}

// Codec returns the codec used by Encode and Decode.
func (c *Coordinator) Codec() persist.Codec { return c.codec }

// Policy returns the external state policy applied by Save.
func (c *Coordinator) Policy() ExternalStatePolicy { return c.policy }

// Save snapshots it. A stage that cannot be checkpointed aborts the whole save
// with ErrFailedPrecondition; the iterator stays usable either way.
func (c *Coordinator) Save(ctx context.Context, it *dataset.Iterator) (*State, error) {
	ctx, span := c.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	start := time.Now()

	st, err := c.save(ctx, it)
	c.finish(ctx, span, observability.OpSave, err, start)

	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("pipeckpt.fingerprint", st.Fingerprint),
		attribute.Int64("pipeckpt.emitted", st.Emitted),
	)

	c.logger.DebugContext(ctx, "checkpoint saved",
		observability.AttrFingerprint, st.Fingerprint,
		observability.AttrEmitted, st.Emitted,
		"stages", st.Depth(),
	)

	return st, nil
}

func (c *Coordinator) save(ctx context.Context, it *dataset.Iterator) (*State, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	opts := dataset.SaveOptions{AllowExternalState: c.policy.allowsExternalState()}

	if c.policy == PolicyWarn {
		opts.OnExternalState = func(stage string, stateErr error) {
			c.logger.WarnContext(ctx, "external state left out of checkpoint",
				observability.AttrStage, stage,
				"error", stateErr,
			)
		}
	}

	root, err := it.Save(opts)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	ds := it.Dataset()

	return &State{
		Version:     StateVersion,
		Fingerprint: dataset.Fingerprint(ds),
		Pipeline:    dataset.Describe(ds),
		Emitted:     it.Emitted(),
		Root:        root,
	}, nil
}

// Restore builds an iterator over ds positioned at st. A nil st yields a fresh
// iterator. A state taken from a differently shaped pipeline is ErrCorruptState.
func (c *Coordinator) Restore(ctx context.Context, ds dataset.Dataset, st *State) (*dataset.Iterator, error) {
	ctx, span := c.tracer.Start(ctx, "checkpoint.restore")
	defer span.End()

	start := time.Now()

	it, err := c.restore(ctx, ds, st)
	c.finish(ctx, span, observability.OpRestore, err, start)

	if err != nil {
		return nil, err
	}

	if st == nil {
		c.logger.DebugContext(ctx, "empty checkpoint, starting fresh")
	} else {
		c.logger.DebugContext(ctx, "checkpoint restored",
			observability.AttrFingerprint, st.Fingerprint,
			observability.AttrEmitted, st.Emitted,
		)
	}

	return it, nil
}

func (c *Coordinator) restore(ctx context.Context, ds dataset.Dataset, st *State) (*dataset.Iterator, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}

	if ds == nil {
		return nil, fmt.Errorf("restore checkpoint: %w", dataset.ErrNilInput)
	}

	if st == nil {
		return dataset.NewIterator(ds), nil
	}

	err = checkEnvelope(ds, st)
	if err != nil {
		return nil, err
	}

	it, err := dataset.RestoreIterator(ds, st.Root, st.Emitted)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}

	return it, nil
}

func checkEnvelope(ds dataset.Dataset, st *State) error {
	if st.Version != StateVersion {
		return fmt.Errorf("%w: %w: %d", ErrCorruptState, ErrUnsupportedVersion, st.Version)
	}

	want := dataset.Fingerprint(ds)
	if st.Fingerprint != want {
		return fmt.Errorf("%w: %w: checkpoint is for %s (%s), pipeline is %s (%s)",
			ErrCorruptState, ErrFingerprintMismatch, st.Pipeline, st.Fingerprint, dataset.Describe(ds), want)
	}

	if st.Root == nil {
		return fmt.Errorf("%w: checkpoint has no stage state", ErrCorruptState)
	}

	return nil
}

// Encode converts st to its opaque byte form.
func (c *Coordinator) Encode(ctx context.Context, st *State) ([]byte, error) {
	start := time.Now()

	data, err := c.encode(st)
	c.record(ctx, observability.OpEncode, err, start)

	if err != nil {
		return nil, err
	}

	c.metrics.RecordStateSize(ctx, observability.OpEncode, len(data))

	return data, nil
}

func (c *Coordinator) encode(st *State) ([]byte, error) {
	if st == nil {
		return nil, ErrNilState
	}

	data, err := persist.Marshal(c.codec, st)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	return data, nil
}

// Decode parses bytes produced by Encode. Malformed input, an envelope that
// fails schema validation, or an unknown version is ErrCorruptState.
func (c *Coordinator) Decode(ctx context.Context, data []byte) (*State, error) {
	start := time.Now()

	st, err := c.decode(data)
	c.record(ctx, observability.OpDecode, err, start)

	if err != nil {
		return nil, err
	}

	c.metrics.RecordStateSize(ctx, observability.OpDecode, len(data))

	return st, nil
}

func (c *Coordinator) decode(data []byte) (*State, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty checkpoint", ErrCorruptState)
	}

	_, plainJSON := c.codec.(*persist.JSONCodec)
	if plainJSON {
		err := validateJSON(data)
		if err != nil {
			return nil, err
		}
	}

	var st State

	err := persist.Unmarshal(c.codec, data, &st)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}

	if !plainJSON {
		err = validateValue(&st)
		if err != nil {
			return nil, err
		}
	}

	if st.Version != StateVersion {
		return nil, fmt.Errorf("%w: %w: %d", ErrCorruptState, ErrUnsupportedVersion, st.Version)
	}

	return &st, nil
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, op string, err error, start time.Time) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failureReason(err))
	}

	c.record(ctx, op, err, start)
}

func (c *Coordinator) record(ctx context.Context, op string, err error, start time.Time) {
	if err != nil {
		c.metrics.RecordOp(ctx, op, observability.StatusError, failureReason(err), time.Since(start))

		return
	}

	c.metrics.RecordOp(ctx, op, observability.StatusOK, "", time.Since(start))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrFailedPrecondition):
		return reasonFailedPrecondition
	case errors.Is(err, ErrUnsupportedVersion):
		return reasonUnsupportedVersion
	case errors.Is(err, ErrFingerprintMismatch):
		return reasonFingerprintMismatch
	case errors.Is(err, ErrCorruptState):
		return reasonCorruptState
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return reasonCanceled
	default:
		return reasonInternal
	}
}
