// Package scenarios holds the built-in map pipelines that pipeckpt verifies:
// the element-wise core pipeline, the capture variants, and a sparse pipeline.
package scenarios

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/safeconv"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/verify"
)

// Scenario names.
const (
	Core             = "core"
	StatefulFunction = "stateful_function"
	CaptureVariable  = "capture_variable"
	CaptureConstant  = "capture_constant"
	CaptureNested    = "capture_nested"
	BuildNested      = "build_nested"
	SparseCore       = "sparse_core"
)

// saveAfter is how many records error-on-save scenarios pull before saving.
const saveAfter = 15

// ErrUnknownScenario is returned by Lookup and Select.
var ErrUnknownScenario = errors.New("unknown scenario")

// Params sizes the scenario pipelines.
type Params struct {
	SliceLen   int
	Epochs     int64
	Multiplier float64
	RangeSize  int64
	Seed       uint64
}

// DefaultParams returns the sizes the scenarios are normally run with.
func DefaultParams() Params {
	return Params{
		SliceLen:   7,
		Epochs:     14,
		Multiplier: 37.0,
		RangeSize:  100,
		Seed:       1,
	}
}

// Scenario is one named pipeline and the protocol it is checked with.
type Scenario struct {
	Name        string
	Description string

	// SaveError, when set, selects the error-on-save protocol with this
	// expected error instead of the core protocol.
	SaveError error

	build   func(Params) verify.Builder
	outputs func(Params) int
}

// Builder returns the pipeline builder for p.
func (s Scenario) Builder(p Params) verify.Builder { return s.build(p) }

// NumOutputs returns the number of records the pipeline produces for p.
func (s Scenario) NumOutputs(p Params) int { return s.outputs(p) }

// Protocol names the check protocol the scenario runs.
func (s Scenario) Protocol() string {
	if s.SaveError != nil {
		return "error on save"
	}

	return "core"
}

// Run verifies s with h.
func (s Scenario) Run(ctx context.Context, h *verify.Harness, p Params) (*verify.Report, error) {
	if s.SaveError != nil {
		return h.VerifyErrorOnSave(ctx, s.Builder(p), saveAfter, s.SaveError)
	}

	return h.RunCoreTests(ctx, s.Builder(p), s.NumOutputs(p))
}

func fixed(n int) func(Params) int { return func(Params) int { return n } }

func rangeSize(p Params) int { return safeconv.ClampInt64ToInt(p.RangeSize) }

var catalogue = []Scenario{
	{
		Name:        Core,
		Description: "slices of (arange, row*arange, multiplier*arange), squared, repeated",
		build:       buildCore,
		outputs:     func(p Params) int { return p.SliceLen * safeconv.ClampInt64ToInt(p.Epochs) },
	},
	{
		Name:        StatefulFunction,
		Description: "range scaled by a captured random generator; save must fail",
		SaveError:   checkpoint.ErrFailedPrecondition,
		build:       buildStatefulFunction,
		outputs:     rangeSize,
	},
	{
		Name:        CaptureVariable,
		Description: "zero repeated, mapped to a captured counter increment; save must fail",
		SaveError:   checkpoint.ErrFailedPrecondition,
		build:       buildCaptureVariable,
		outputs:     fixed(captureRepeats),
	},
	{
		Name:        CaptureConstant,
		Description: "zero repeated, plus a captured constant 5",
		build:       buildCaptureConstant,
		outputs:     fixed(captureRepeats),
	},
	{
		Name:        CaptureNested,
		Description: "range through a captured pure function adding 1000",
		build:       buildCaptureNested,
		outputs:     rangeSize,
	},
	{
		Name:        BuildNested,
		Description: "range through 11000 + a nested function adding 1000",
		build:       buildBuildNested,
		outputs:     rangeSize,
	},
	{
		Name:        SparseCore,
		Description: "range mapped to 1x1 sparse values",
		build:       buildSparseCore,
		outputs:     fixed(sparseRange),
	},
}

// All returns every built-in scenario in catalogue order.
func All() []Scenario {
	return slices.Clone(catalogue)
}

// Names returns the scenario names in catalogue order.
func Names() []string {
	names := make([]string, len(catalogue))
	for i, s := range catalogue {
		names[i] = s.Name
	}

	return names
}

// Lookup returns the scenario with the given name.
func Lookup(name string) (Scenario, error) {
	for _, s := range catalogue {
		if s.Name == name {
			return s, nil
		}
	}

	return Scenario{}, fmt.Errorf("%w: %q (have %v)", ErrUnknownScenario, name, Names())
}

// Select resolves names in order; no names selects every scenario.
func Select(names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return All(), nil
	}

	out := make([]Scenario, 0, len(names))

	for _, name := range names {
		s, err := Lookup(name)
		if err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	return out, nil
}
