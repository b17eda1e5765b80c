package scenarios_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pipeckpt/internal/scenarios"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/verify"
)

func records(t *testing.T, name string, p scenarios.Params) []dataset.Record {
	t.Helper()

	sc, err := scenarios.Lookup(name)
	require.NoError(t, err)

	reg := transform.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	ds, err := sc.Builder(p)(reg)
	require.NoError(t, err)

	it := dataset.NewIterator(ds)

	var out []dataset.Record

	for {
		rec, ok, nextErr := it.Next(context.Background())
		require.NoError(t, nextErr)

		if !ok {
			return out
		}

		out = append(out, rec)
	}
}

func denseAt(t *testing.T, rec dataset.Record, i int) *tensor.Dense {
	t.Helper()

	d, ok := rec[i].(*tensor.Dense)
	require.True(t, ok, "component %d of %s", i, rec)

	return d
}

func TestScenarios_AllPass(t *testing.T) {
	t.Parallel()

	for _, sc := range scenarios.All() {
		t.Run(sc.Name, func(t *testing.T) {
			t.Parallel()

			h := verify.New(verify.Options{Name: sc.Name})

			report, err := sc.Run(context.Background(), h, scenarios.DefaultParams())
			require.NoError(t, err)
			assert.True(t, report.Passed())
			assert.NotEmpty(t, report.Checks)
		})
	}
}

func TestScenarios_AllPassThroughDisk(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: persist.NewLZ4Codec(persist.NewJSONCodec())})
	h := verify.New(verify.Options{Coordinator: coord, CheckpointDir: t.TempDir()})

	for _, sc := range scenarios.All() {
		_, err := sc.Run(context.Background(), h, scenarios.DefaultParams())
		require.NoError(t, err, sc.Name)
	}
}

func TestCore_Outputs(t *testing.T) {
	t.Parallel()

	p := scenarios.DefaultParams()
	recs := records(t, scenarios.Core, p)
	require.Len(t, recs, 98)

	sc, err := scenarios.Lookup(scenarios.Core)
	require.NoError(t, err)
	assert.Equal(t, 98, sc.NumOutputs(p))

	for i, rec := range recs {
		j := int64(i % p.SliceLen)
		require.Len(t, rec, 3)

		assert.Equal(t, j*j, denseAt(t, rec, 0).Int(0), "record %d", i)

		row := denseAt(t, rec, 1)
		assert.Equal(t, []int{3}, row.Shape())
		assert.Equal(t, []int64{j * j, 4 * j * j, 9 * j * j}, []int64{row.Int(0), row.Int(1), row.Int(2)})

		scaled := 37.0 * float64(j)
		assert.InDelta(t, scaled*scaled, denseAt(t, rec, 2).Float(0), 1e-9)
	}
}

func TestCore_ParamsResize(t *testing.T) {
	t.Parallel()

	p := scenarios.DefaultParams()
	p.SliceLen = 3
	p.Epochs = 2

	assert.Len(t, records(t, scenarios.Core, p), 6)
}

func TestCaptureConstant_Outputs(t *testing.T) {
	t.Parallel()

	recs := records(t, scenarios.CaptureConstant, scenarios.DefaultParams())
	require.Len(t, recs, 10)

	for _, rec := range recs {
		d := denseAt(t, rec, 0)
		assert.Equal(t, tensor.Int32, d.DType())
		assert.Equal(t, int64(5), d.Int(0))
	}
}

func TestNested_Outputs(t *testing.T) {
	t.Parallel()

	p := scenarios.DefaultParams()

	nested := records(t, scenarios.CaptureNested, p)
	built := records(t, scenarios.BuildNested, p)
	require.Len(t, nested, 100)
	require.Len(t, built, 100)

	for i := range nested {
		assert.Equal(t, int64(1000+i), denseAt(t, nested[i], 0).Int(0))
		assert.Equal(t, int64(12000+i), denseAt(t, built[i], 0).Int(0))
		assert.Equal(t, tensor.Int32, denseAt(t, built[i], 0).DType())
	}
}

func TestSparseCore_Outputs(t *testing.T) {
	t.Parallel()

	recs := records(t, scenarios.SparseCore, scenarios.DefaultParams())
	require.Len(t, recs, 10)

	for i, rec := range recs {
		sp, ok := rec[0].(*tensor.Sparse)
		require.True(t, ok)
		assert.Equal(t, [][]int64{{0, 0}}, sp.Indices())
		assert.Equal(t, []int64{1, 1}, sp.DenseShape())
		assert.Equal(t, int64(i), sp.Values().Int(0))
	}
}

func TestCaptureVariable_CountsUp(t *testing.T) {
	t.Parallel()

	recs := records(t, scenarios.CaptureVariable, scenarios.DefaultParams())
	require.Len(t, recs, 10)

	for i, rec := range recs {
		assert.Equal(t, int64(i+1), denseAt(t, rec, 0).Int(0))
	}
}

func TestStatefulFunction_DeterministicPerSeed(t *testing.T) {
	t.Parallel()

	p := scenarios.DefaultParams()
	first := records(t, scenarios.StatefulFunction, p)
	second := records(t, scenarios.StatefulFunction, p)
	require.Len(t, first, 100)

	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "record %d", i)

		v := denseAt(t, first[i], 0).Int(0)
		assert.Zero(t, v%max(int64(i), 1), "record %d = %d is not a multiple of %d", i, v, i)
		assert.Less(t, v, int64(10*max(i, 1)))
	}
}

func TestStatefulScenarios_FailCoreProtocolUnderWarnPolicy(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{Policy: checkpoint.PolicyWarn})
	h := verify.New(verify.Options{Coordinator: coord})

	for _, name := range []string{scenarios.CaptureVariable, scenarios.StatefulFunction} {
		sc, err := scenarios.Lookup(name)
		require.NoError(t, err)

		_, err = h.RunCoreTests(context.Background(), sc.Builder(scenarios.DefaultParams()), sc.NumOutputs(scenarios.DefaultParams()))
		require.ErrorIs(t, err, verify.ErrOutputMismatch, name)
	}
}

func TestCatalogue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		scenarios.Core,
		scenarios.StatefulFunction,
		scenarios.CaptureVariable,
		scenarios.CaptureConstant,
		scenarios.CaptureNested,
		scenarios.BuildNested,
		scenarios.SparseCore,
	}, scenarios.Names())

	sc, err := scenarios.Lookup(scenarios.CaptureVariable)
	require.NoError(t, err)
	assert.Equal(t, "error on save", sc.Protocol())

	_, err = scenarios.Lookup("shuffle")
	require.ErrorIs(t, err, scenarios.ErrUnknownScenario)

	all, err := scenarios.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	picked, err := scenarios.Select([]string{scenarios.SparseCore, scenarios.Core})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, scenarios.SparseCore, picked[0].Name)
	assert.Equal(t, "core", picked[1].Protocol())

	_, err = scenarios.Select([]string{scenarios.Core, "nope"})
	require.ErrorIs(t, err, scenarios.ErrUnknownScenario)
}
