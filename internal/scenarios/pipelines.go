package scenarios

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/tensor"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/transform"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/verify"
)

// Constants baked into the scenario pipelines.
const (
	captureRepeats  = 10
	sparseRange     = 10
	addend          = 5
	innerOffset     = 1000
	outerOffset     = 11000
	uniformLow      = 0
	uniformHigh     = 10
	rowWidth        = 3
	counterName     = "counter"
	generatorName   = "uniform"
	constantName    = "five"
	innerOffsetName = "thousand"
	outerOffsetName = "eleven_thousand"
)

var errNotDense = errors.New("argument is not a dense tensor")

func dense(v tensor.Value) (*tensor.Dense, error) {
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNotDense, v)
	}

	return d, nil
}

func one(v tensor.Value) []tensor.Value { return []tensor.Value{v} }

// buildCore is slices(arange, row*arange, multiplier*arange) -> map(square) -> repeat(epochs).
func buildCore(p Params) verify.Builder {
	return func(*transform.Registry) (dataset.Dataset, error) {
		n := p.SliceLen
		idx := tensor.Arange(n)

		rows := make([]int64, 0, n*rowWidth)
		for i := range int64(n) {
			rows = append(rows, i, 2*i, 3*i)
		}

		matrix, err := tensor.NewInt64([]int{n, rowWidth}, rows)
		if err != nil {
			return nil, err
		}

		scaled, err := tensor.Mul(tensor.ScalarFloat(p.Multiplier), tensor.Cast(idx, tensor.Float64))
		if err != nil {
			return nil, err
		}

		src, err := dataset.FromTensorSlices(idx, matrix, scaled)
		if err != nil {
			return nil, err
		}

		square, err := transform.New("square", 3, func(_ *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
			out := make([]tensor.Value, len(args))

			for i, arg := range args {
				d, denseErr := dense(arg)
				if denseErr != nil {
					return nil, denseErr
				}

				out[i] = tensor.Square(d)
			}

			return out, nil
		})
		if err != nil {
			return nil, err
		}

		mapped, err := dataset.Map(src, square)
		if err != nil {
			return nil, err
		}

		return dataset.Repeat(mapped, p.Epochs)
	}
}

// buildStatefulFunction maps range(n) through a random draw scaled by the element.
func buildStatefulFunction(p Params) verify.Builder {
	return func(reg *transform.Registry) (dataset.Dataset, error) {
		gen, err := reg.RandomGenerator(generatorName, p.Seed)
		if err != nil {
			return nil, err
		}

		fn, err := transform.New("random_scale", 1, func(call *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
			x, denseErr := dense(args[0])
			if denseErr != nil {
				return nil, denseErr
			}

			g, lookupErr := call.Generator(generatorName)
			if lookupErr != nil {
				return nil, lookupErr
			}

			draw, drawErr := g.Uniform(uniformLow, uniformHigh)
			if drawErr != nil {
				return nil, drawErr
			}

			out, mulErr := tensor.Mul(tensor.Scalar32(int32(draw)), tensor.Cast(x, tensor.Int32)) //nolint:gosec // draw is in [0, 10).
			if mulErr != nil {
				return nil, mulErr
			}

			return one(out), nil
		}, gen)
		if err != nil {
			return nil, err
		}

		return dataset.Map(dataset.RangeN(p.RangeSize), fn)
	}
}

// repeatedZero is from_tensors(int32 0) -> repeat(10).
func repeatedZero() (dataset.Dataset, error) {
	src, err := dataset.FromTensors(tensor.Scalar32(0))
	if err != nil {
		return nil, err
	}

	return dataset.Repeat(src, captureRepeats)
}

// buildCaptureVariable increments a shared counter per record.
func buildCaptureVariable(Params) verify.Builder {
	return func(reg *transform.Registry) (dataset.Dataset, error) {
		counter, err := reg.Variable(counterName, tensor.Int32)
		if err != nil {
			return nil, err
		}

		fn, err := transform.New("increment", 1, func(call *transform.Call, _ []tensor.Value) ([]tensor.Value, error) {
			v, lookupErr := call.Variable(counterName)
			if lookupErr != nil {
				return nil, lookupErr
			}

			return one(v.AssignAdd(1)), nil
		}, counter)
		if err != nil {
			return nil, err
		}

		src, err := repeatedZero()
		if err != nil {
			return nil, err
		}

		return dataset.Map(src, fn)
	}
}

// buildCaptureConstant adds a captured immutable 5 to every record.
func buildCaptureConstant(Params) verify.Builder {
	return func(*transform.Registry) (dataset.Dataset, error) {
		five := transform.Constant(constantName, tensor.Scalar32(addend))

		fn, err := transform.New("add_constant", 1, func(call *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
			return addCaptured(call, constantName, args[0])
		}, five)
		if err != nil {
			return nil, err
		}

		src, err := repeatedZero()
		if err != nil {
			return nil, err
		}

		return dataset.Map(src, fn)
	}
}

// addCaptured returns the named constant plus x cast to the constant's dtype.
func addCaptured(call *transform.Call, name string, x tensor.Value) ([]tensor.Value, error) {
	c, err := call.Constant(name)
	if err != nil {
		return nil, err
	}

	cd, err := dense(c)
	if err != nil {
		return nil, err
	}

	xd, err := dense(x)
	if err != nil {
		return nil, err
	}

	sum, err := tensor.Add(cd, tensor.Cast(xd, cd.DType()))
	if err != nil {
		return nil, err
	}

	return one(sum), nil
}

// offsetFn builds name(x) = offset + int32(x) with offset as a captured constant.
func offsetFn(name, constName string, offset int32) (*transform.Function, error) {
	return transform.New(name, 1, func(call *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
		return addCaptured(call, constName, args[0])
	}, transform.Constant(constName, tensor.Scalar32(offset)))
}

// buildCaptureNested maps range(n) through a function calling a captured pure function.
func buildCaptureNested(p Params) verify.Builder {
	return func(*transform.Registry) (dataset.Dataset, error) {
		inner, err := offsetFn("add_thousand", innerOffsetName, innerOffset)
		if err != nil {
			return nil, err
		}

		outer, err := transform.New("call_nested", 1, func(call *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
			return call.Invoke(inner.Name(), args...)
		}, transform.Nested(inner))
		if err != nil {
			return nil, err
		}

		return dataset.Map(dataset.RangeN(p.RangeSize), outer)
	}
}

// buildBuildNested maps range(n) through outer(x) = 11000 + inner(int32(x)), inner(x) = 1000 + x.
func buildBuildNested(p Params) verify.Builder {
	return func(*transform.Registry) (dataset.Dataset, error) {
		inner, err := offsetFn("add_thousand", innerOffsetName, innerOffset)
		if err != nil {
			return nil, err
		}

		outer, err := transform.New("add_eleven_thousand", 1, func(call *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
			x, denseErr := dense(args[0])
			if denseErr != nil {
				return nil, denseErr
			}

			deep, invokeErr := call.Invoke(inner.Name(), tensor.Cast(x, tensor.Int32))
			if invokeErr != nil {
				return nil, invokeErr
			}

			return addCaptured(call, outerOffsetName, deep[0])
		}, transform.Nested(inner), transform.Constant(outerOffsetName, tensor.Scalar32(outerOffset)))
		if err != nil {
			return nil, err
		}

		return dataset.Map(dataset.RangeN(p.RangeSize), outer)
	}
}

// buildSparseCore maps range(10) to 1x1 sparse values holding the element.
func buildSparseCore(Params) verify.Builder {
	return func(*transform.Registry) (dataset.Dataset, error) {
		fn, err := transform.New("to_sparse", 1, func(_ *transform.Call, args []tensor.Value) ([]tensor.Value, error) {
			x, denseErr := dense(args[0])
			if denseErr != nil {
				return nil, denseErr
			}

			values, valErr := tensor.NewInt64([]int{1}, []int64{x.Int(0)})
			if valErr != nil {
				return nil, valErr
			}

			sp, spErr := tensor.NewSparse([][]int64{{0, 0}}, values, []int64{1, 1})
			if spErr != nil {
				return nil, spErr
			}

			return one(sp), nil
		})
		if err != nil {
			return nil, err
		}

		return dataset.Map(dataset.RangeN(sparseRange), fn)
	}
}
