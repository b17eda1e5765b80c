package checkpoint_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/observability"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
)

func square(t *testing.T) *transform.Function {
	t.Helper()

	fn, err := transform.New("square", 1, func(_ *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
		x, _ := args[0].(*tensor.Dense)

		return []tensor.Value{tensor.Square(x)}, nil
	})
	require.NoError(t, err)

	return fn
}

func counting(t *testing.T, reg *transform.Registry) *transform.Function {
	t.Helper()

	counter, err := reg.Variable("counter", tensor.Int32)
	require.NoError(t, err)

	fn, err := transform.New("count", 1, func(call *transform.Call, _ []tensor.Value) ([]tensor.Value, error) {
		v, lookupErr := call.Variable("counter")
		if lookupErr != nil {
			return nil, lookupErr
		}

		return []tensor.Value{v.AssignAdd(1)}, nil
	}, counter)
	require.NoError(t, err)

	return fn
}

// squares builds range(n) -> map(square) -> repeat(epochs).
func squares(t *testing.T, n, epochs int64) dataset.Dataset {
	t.Helper()

	m, err := dataset.Map(dataset.RangeN(n), square(t))
	require.NoError(t, err)

	r, err := dataset.Repeat(m, epochs)
	require.NoError(t, err)

	return r
}

func pull(t *testing.T, it *dataset.Iterator, n int) []int64 {
	t.Helper()

	var out []int64

	for range n {
		rec, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		d, isDense := rec[0].(*tensor.Dense)
		require.True(t, isDense)

		out = append(out, d.Int(0))
	}

	return out
}

func allCodecs() map[string]persist.Codec {
	return map[string]persist.Codec{
		"json":     persist.NewJSONCodec(),
		"gob":      persist.NewGobCodec(),
		"json+lz4": persist.NewLZ4Codec(persist.NewJSONCodec()),
		"gob+lz4":  persist.NewLZ4Codec(persist.NewGobCodec()),
	}
}

func TestCoordinator_RoundTripEveryCodec(t *testing.T) {
	t.Parallel()

	for name, codec := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: codec})

			it := dataset.NewIterator(squares(t, 4, 3))
			assert.Equal(t, []int64{0, 1, 4, 9, 0}, pull(t, it, 5))

			st, err := coord.Save(ctx, it)
			require.NoError(t, err)
			assert.Equal(t, checkpoint.StateVersion, st.Version)
			assert.Equal(t, int64(5), st.Emitted)
			assert.Equal(t, 3, st.Depth())

			data, err := coord.Encode(ctx, st)
			require.NoError(t, err)

			decoded, err := coord.Decode(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, st, decoded)

			restored, err := coord.Restore(ctx, squares(t, 4, 3), decoded)
			require.NoError(t, err)
			assert.Equal(t, int64(5), restored.Emitted())
			assert.Equal(t, []int64{1, 4, 9, 0, 1, 4, 9}, pull(t, restored, 100))
		})
	}
}

func TestCoordinator_SaveDoesNotAdvance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})

	it := dataset.NewIterator(squares(t, 3, 1))
	pull(t, it, 1)

	_, err := coord.Save(ctx, it)
	require.NoError(t, err)
	_, err = coord.Save(ctx, it)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 4}, pull(t, it, 10))
}

func TestCoordinator_NilStateIsFresh(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{})

	it, err := coord.Restore(context.Background(), squares(t, 3, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 4, 0, 1, 4}, pull(t, it, 10))
}

func TestCoordinator_RestoreNilDataset(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{})

	_, err := coord.Restore(context.Background(), nil, nil)
	require.ErrorIs(t, err, dataset.ErrNilInput)
}

func TestCoordinator_FingerprintMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})

	it := dataset.NewIterator(squares(t, 4, 3))
	pull(t, it, 2)

	st, err := coord.Save(ctx, it)
	require.NoError(t, err)

	_, err = coord.Restore(ctx, squares(t, 4, 2), st)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)
	require.ErrorIs(t, err, checkpoint.ErrFingerprintMismatch)
}

func TestCoordinator_RestoreRejectsBadEnvelope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	ds := squares(t, 4, 3)

	st, err := coord.Save(ctx, dataset.NewIterator(ds))
	require.NoError(t, err)

	wrongVersion := *st
	wrongVersion.Version = 7

	_, err = coord.Restore(ctx, ds, &wrongVersion)
	require.ErrorIs(t, err, checkpoint.ErrUnsupportedVersion)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)

	noRoot := *st
	noRoot.Root = nil

	_, err = coord.Restore(ctx, ds, &noRoot)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)
}

func TestCoordinator_PolicyFailRejectsStatefulMap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := transform.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	ds, err := dataset.Map(dataset.RangeN(10), counting(t, reg))
	require.NoError(t, err)

	coord := checkpoint.NewCoordinator(checkpoint.Options{Policy: checkpoint.PolicyFail})
	it := dataset.NewIterator(ds)

	for _, k := range []int{0, 1, 3} {
		pull(t, it, k)

		st, saveErr := coord.Save(ctx, it)
		require.ErrorIs(t, saveErr, checkpoint.ErrFailedPrecondition)
		assert.Nil(t, st)
	}
}

func TestCoordinator_PolicyWarnLogsAndSaves(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	reg := transform.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	ds, err := dataset.Map(dataset.RangeN(10), counting(t, reg))
	require.NoError(t, err)

	coord := checkpoint.NewCoordinator(checkpoint.Options{Policy: checkpoint.PolicyWarn, Logger: logger})
	it := dataset.NewIterator(ds)
	pull(t, it, 2)

	st, err := coord.Save(context.Background(), it)
	require.NoError(t, err)
	require.NotNil(t, st.Root.Adapter)
	assert.True(t, st.Root.Adapter.Stateful)
	assert.Contains(t, buf.String(), "external state left out of checkpoint")
	assert.Contains(t, buf.String(), "counter")
}

func TestCoordinator_PolicyIgnoreIsSilent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	reg := transform.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	ds, err := dataset.Map(dataset.RangeN(10), counting(t, reg))
	require.NoError(t, err)

	coord := checkpoint.NewCoordinator(checkpoint.Options{Policy: checkpoint.PolicyIgnore, Logger: logger})

	_, err = coord.Save(context.Background(), dataset.NewIterator(ds))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestCoordinator_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{})

	_, err := coord.Save(ctx, dataset.NewIterator(squares(t, 2, 1)))
	require.ErrorIs(t, err, context.Canceled)

	_, err = coord.Restore(ctx, squares(t, 2, 1), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCoordinator_DecodeMalformed(t *testing.T) {
	t.Parallel()

	inputs := map[string][]byte{
		"empty":   nil,
		"garbage": []byte("not a checkpoint"),
	}

	for name, codec := range allCodecs() {
		for inputName, data := range inputs {
			t.Run(name+"/"+inputName, func(t *testing.T) {
				t.Parallel()

				coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: codec})

				_, err := coord.Decode(context.Background(), data)
				require.ErrorIs(t, err, checkpoint.ErrCorruptState)
			})
		}
	}
}

func encodedDocument(t *testing.T, coord *checkpoint.Coordinator) map[string]any {
	t.Helper()

	st, err := coord.Save(context.Background(), dataset.NewIterator(squares(t, 4, 3)))
	require.NoError(t, err)

	data, err := coord.Encode(context.Background(), st)
	require.NoError(t, err)

	var doc map[string]any

	require.NoError(t, json.Unmarshal(data, &doc))

	return doc
}

func TestCoordinator_DecodeSchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(doc map[string]any)
	}{
		{name: "unknown field", mutate: func(doc map[string]any) { doc["records"] = []int{1, 2} }},
		{name: "bad fingerprint", mutate: func(doc map[string]any) { doc["fingerprint"] = "xyz" }},
		{name: "negative emitted", mutate: func(doc map[string]any) { doc["emitted"] = -1 }},
		{name: "missing root", mutate: func(doc map[string]any) { delete(doc, "root") }},
		{name: "unknown stage kind", mutate: func(doc map[string]any) {
			root, _ := doc["root"].(map[string]any)
			root["kind"] = "shuffle"
		}},
		{name: "negative cursor", mutate: func(doc map[string]any) {
			root, _ := doc["root"].(map[string]any)
			root["cursor"] = -3
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: persist.NewJSONCodec()})
			doc := encodedDocument(t, coord)
			tt.mutate(doc)

			data, err := json.Marshal(doc)
			require.NoError(t, err)

			_, err = coord.Decode(context.Background(), data)
			require.ErrorIs(t, err, checkpoint.ErrCorruptState)
		})
	}
}

func TestCoordinator_DecodeUnsupportedVersion(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: persist.NewJSONCodec()})
	doc := encodedDocument(t, coord)
	doc["version"] = checkpoint.StateVersion + 1

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = coord.Decode(context.Background(), data)
	require.ErrorIs(t, err, checkpoint.ErrUnsupportedVersion)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)
}

func TestCoordinator_DecodeGobSchemaViolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	codec := persist.NewGobCodec()
	coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: codec})

	bad := &checkpoint.State{
		Version:     checkpoint.StateVersion,
		Fingerprint: "0123456789abcdef",
		Root:        &dataset.StageState{Kind: "shuffle"},
	}

	data, err := persist.Marshal(codec, bad)
	require.NoError(t, err)

	_, err = coord.Decode(ctx, data)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)
}

func TestCoordinator_EncodeNil(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{})

	_, err := coord.Encode(context.Background(), nil)
	require.ErrorIs(t, err, checkpoint.ErrNilState)
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestCoordinator_RecordsMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := observability.NewCheckpointMetrics(mp.Meter("test"))
	require.NoError(t, err)

	reg := transform.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	stateful, err := dataset.Map(dataset.RangeN(3), counting(t, reg))
	require.NoError(t, err)

	coord := checkpoint.NewCoordinator(checkpoint.Options{Metrics: metrics})

	st, err := coord.Save(ctx, dataset.NewIterator(squares(t, 3, 1)))
	require.NoError(t, err)

	_, err = coord.Encode(ctx, st)
	require.NoError(t, err)

	_, err = coord.Save(ctx, dataset.NewIterator(stateful))
	require.Error(t, err)

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(ctx, &rm))

	ops := findMetric(rm, "pipeckpt.checkpoint.operations.total")
	require.NotNil(t, ops)

	failures := findMetric(rm, "pipeckpt.checkpoint.failures.total")
	require.NotNil(t, failures)

	sum, ok := failures.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)

	reason, found := sum.DataPoints[0].Attributes.Value("reason")
	require.True(t, found)
	assert.Equal(t, "failed_precondition", reason.AsString())

	assert.NotNil(t, findMetric(rm, "pipeckpt.checkpoint.state.bytes"))
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]checkpoint.ExternalStatePolicy{
		"":       checkpoint.PolicyFail,
		"fail":   checkpoint.PolicyFail,
		" Warn ": checkpoint.PolicyWarn,
		"ignore": checkpoint.PolicyIgnore,
	} {
		got, err := checkpoint.ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := checkpoint.ParsePolicy("retry")
	require.ErrorIs(t, err, checkpoint.ErrUnknownPolicy)
}
