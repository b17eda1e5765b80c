package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
)

const (
	metricOpsTotal      = "pipeckpt.checkpoint.operations.total"
	metricOpDuration    = "pipeckpt.checkpoint.operation.duration.seconds"
	metricFailuresTotal = "pipeckpt.checkpoint.failures.total"
	metricStateBytes    = "pipeckpt.checkpoint.state.bytes"
	metricRecordsTotal  = "pipeckpt.pipeline.records.total"

	attrOp     = "op"
	attrStatus = "status"
	attrReason = "reason"
)

// Checkpoint operation names recorded on the op attribute.
const (
	OpSave    = "save"
	OpRestore = "restore"
	OpEncode  = "encode"
	OpDecode  = "decode"
)

// Status values recorded on the status attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Checkpoint operations run in microseconds to milliseconds; file-backed
// saves can take longer on slow disks.
var durationBucketBoundaries = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

var stateSizeBucketBoundaries = []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576}

// CheckpointMetrics holds the OTel instruments for checkpoint save, restore
// and codec operations.
type CheckpointMetrics struct {
	opsTotal      metric.Int64Counter
	opDuration    metric.Float64Histogram
	failuresTotal metric.Int64Counter
	stateBytes    metric.Int64Histogram
	recordsTotal  metric.Int64Counter
}

// NewCheckpointMetrics creates the checkpoint instruments from mt.
func NewCheckpointMetrics(mt metric.Meter) (*CheckpointMetrics, error) {
	opsTotal, err := mt.Int64Counter(metricOpsTotal,
		metric.WithDescription("Total number of checkpoint operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOpsTotal, err)
	}

	opDuration, err := mt.Float64Histogram(metricOpDuration,
		metric.WithDescription("Checkpoint operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOpDuration, err)
	}

	failures, err := mt.Int64Counter(metricFailuresTotal,
		metric.WithDescription("Checkpoint operations rejected, by reason"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFailuresTotal, err)
	}

	stateBytes, err := mt.Int64Histogram(metricStateBytes,
		metric.WithDescription("Encoded checkpoint size in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(stateSizeBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStateBytes, err)
	}

	records, err := mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Records produced by verified pipelines"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsTotal, err)
	}

	return &CheckpointMetrics{
		opsTotal:      opsTotal,
		opDuration:    opDuration,
		failuresTotal: failures,
		stateBytes:    stateBytes,
		recordsTotal:  records,
	}, nil
}

// NoopCheckpointMetrics returns instruments backed by a no-op meter.
func NoopCheckpointMetrics() *CheckpointMetrics {
	cm, err := NewCheckpointMetrics(noopmetric.NewMeterProvider().Meter(meterName))
	if err != nil {
		// The no-op meter never fails instrument creation.
		panic(err)
	}

	return cm
}

// RecordOp records one completed operation. A non-empty reason on an error
// status also bumps the failure counter.
func (cm *CheckpointMetrics) RecordOp(ctx context.Context, op, status, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	cm.opsTotal.Add(ctx, 1, attrs)
	cm.opDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		cm.failuresTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
			attribute.String(attrReason, reason),
		))
	}
}

// RecordStateSize records the encoded size of a checkpoint.
func (cm *CheckpointMetrics) RecordStateSize(ctx context.Context, op string, size int) {
	cm.stateBytes.Record(ctx, int64(size), metric.WithAttributes(attribute.String(attrOp, op)))
}

// RecordRecords adds n produced records for the named scenario.
func (cm *CheckpointMetrics) RecordRecords(ctx context.Context, scenario string, n int64) {
	cm.recordsTotal.Add(ctx, n, metric.WithAttributes(attribute.String(AttrScenario, scenario)))
}
