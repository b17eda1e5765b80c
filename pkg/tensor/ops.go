package tensor

import (
	"fmt"
	"slices"
)

// Square returns the element-wise square of d.
func Square(d *Dense) *Dense {
	out, _ := binary(d, d, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })

	return out
}

// Add returns a + b element-wise. A scalar operand broadcasts against the other.
func Add(a, b *Dense) (*Dense, error) {
	return binary(a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
}

// Mul returns a * b element-wise. A scalar operand broadcasts against the other.
func Mul(a, b *Dense) (*Dense, error) {
	return binary(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
}

// Cast converts d to the given dtype. Float to integer conversion truncates.
func Cast(d *Dense, to DType) *Dense {
	out := &Dense{dtype: to, shape: slices.Clone(d.shape)}

	n := d.Len()
	if to == Float64 {
		out.floats = make([]float64, n)
		for i := range n {
			out.floats[i] = d.Float(i)
		}

		return out
	}

	out.ints = make([]int64, n)
	for i := range n {
		out.ints[i] = wrap(to, d.Int(i))
	}

	return out
}

func binary(a, b *Dense, intOp func(x, y int64) int64, floatOp func(x, y float64) float64) (*Dense, error) {
	if a.dtype != b.dtype {
		return nil, fmt.Errorf("%w: %s and %s", ErrDTypeMismatch, a.dtype, b.dtype)
	}

	shape, err := broadcastShape(a, b)
	if err != nil {
		return nil, err
	}

	n := numElements(shape)
	out := &Dense{dtype: a.dtype, shape: shape}

	if a.dtype == Float64 {
		out.floats = make([]float64, n)
		for i := range n {
			out.floats[i] = floatOp(a.floats[index(a, i)], b.floats[index(b, i)])
		}

		return out, nil
	}

	out.ints = make([]int64, n)
	for i := range n {
		out.ints[i] = wrap(a.dtype, intOp(a.ints[index(a, i)], b.ints[index(b, i)]))
	}

	return out, nil
}

func broadcastShape(a, b *Dense) ([]int, error) {
	switch {
	case slices.Equal(a.shape, b.shape):
		return slices.Clone(a.shape), nil
	case len(a.shape) == 0:
		return slices.Clone(b.shape), nil
	case len(b.shape) == 0:
		return slices.Clone(a.shape), nil
	}

	return nil, fmt.Errorf("%w: %v and %v", ErrShapeMismatch, a.shape, b.shape)
}

// index maps an output position onto d, repeating scalars.
func index(d *Dense, i int) int {
	if len(d.shape) == 0 {
		return 0
	}

	return i
}

func wrap(dtype DType, v int64) int64 {
	if dtype == Int32 {
		return int64(int32(v)) //nolint:gosec // int32 overflow wraps like the engine does.
	}

	return v
}
