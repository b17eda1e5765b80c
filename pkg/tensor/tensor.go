// Package tensor provides the minimal dense and sparse values carried by pipeline records.
//
// Values are immutable once built. Operations return new values and never modify
// their operands.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Sentinel errors for tensor construction and arithmetic.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDTypeMismatch = errors.New("dtype mismatch")
	ErrNotSliceable  = errors.New("cannot slice a scalar")
	ErrIndexRange    = errors.New("index out of range")
)

// DType identifies the element type of a dense tensor.
type DType int

// Supported element types.
const (
	Int64 DType = iota
	Int32
	Float64
)

// String returns the dtype name.
func (d DType) String() string {
	switch d {
	case Int64:
		return "int64"
	case Int32:
		return "int32"
	case Float64:
		return "float64"
	}

	return "dtype(" + strconv.Itoa(int(d)) + ")"
}

// IsInteger reports whether d stores integers.
func (d DType) IsInteger() bool {
	return d == Int64 || d == Int32
}

// Value is a record component. Implementations are *Dense and *Sparse.
type Value interface {
	// Equal reports whether other holds the same dtype, shape and elements.
	Equal(other Value) bool

	String() string
}

// Dense is a row-major dense tensor. Integer dtypes use Ints, Float64 uses Floats.
type Dense struct {
	dtype  DType
	shape  []int
	ints   []int64
	floats []float64
}

// NewInt64 builds an int64 tensor with the given shape.
func NewInt64(shape []int, data []int64) (*Dense, error) {
	if numElements(shape) != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, numElements(shape), len(data))
	}

	return &Dense{dtype: Int64, shape: slices.Clone(shape), ints: slices.Clone(data)}, nil
}

// NewFloat64 builds a float64 tensor with the given shape.
func NewFloat64(shape []int, data []float64) (*Dense, error) {
	if numElements(shape) != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, numElements(shape), len(data))
	}

	return &Dense{dtype: Float64, shape: slices.Clone(shape), floats: slices.Clone(data)}, nil
}

// Scalar returns an int64 scalar.
func Scalar(v int64) *Dense {
	return &Dense{dtype: Int64, ints: []int64{v}}
}

// Scalar32 returns an int32 scalar.
func Scalar32(v int32) *Dense {
	return &Dense{dtype: Int32, ints: []int64{int64(v)}}
}

// ScalarFloat returns a float64 scalar.
func ScalarFloat(v float64) *Dense {
	return &Dense{dtype: Float64, floats: []float64{v}}
}

// Arange returns the int64 vector [0, 1, ..., n-1].
func Arange(n int) *Dense {
	data := make([]int64, n)
	for i := range data {
		data[i] = int64(i)
	}

	return &Dense{dtype: Int64, shape: []int{n}, ints: data}
}

// DType returns the element type.
func (d *Dense) DType() DType { return d.dtype }

// Shape returns a copy of the tensor shape. Scalars have an empty shape.
func (d *Dense) Shape() []int { return slices.Clone(d.shape) }

// Len returns the number of elements.
func (d *Dense) Len() int {
	if d.dtype == Float64 {
		return len(d.floats)
	}

	return len(d.ints)
}

// Int returns the i-th element (row-major) as int64.
func (d *Dense) Int(i int) int64 {
	if d.dtype == Float64 {
		return int64(d.floats[i])
	}

	return d.ints[i]
}

// Float returns the i-th element (row-major) as float64.
func (d *Dense) Float(i int) float64 {
	if d.dtype == Float64 {
		return d.floats[i]
	}

	return float64(d.ints[i])
}

// Dim0 returns the size of the leading dimension, or ErrNotSliceable for scalars.
func (d *Dense) Dim0() (int, error) {
	if len(d.shape) == 0 {
		return 0, ErrNotSliceable
	}

	return d.shape[0], nil
}

// Slice returns the i-th sub-tensor along the leading dimension.
func (d *Dense) Slice(i int) (*Dense, error) {
	dim0, err := d.Dim0()
	if err != nil {
		return nil, err
	}

	if i < 0 || i >= dim0 {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, i, dim0)
	}

	inner := d.shape[1:]
	stride := numElements(inner)
	out := &Dense{dtype: d.dtype, shape: slices.Clone(inner)}

	if d.dtype == Float64 {
		out.floats = slices.Clone(d.floats[i*stride : (i+1)*stride])
	} else {
		out.ints = slices.Clone(d.ints[i*stride : (i+1)*stride])
	}

	return out, nil
}

// Equal implements Value.
func (d *Dense) Equal(other Value) bool {
	o, ok := other.(*Dense)
	if !ok || o.dtype != d.dtype || !slices.Equal(o.shape, d.shape) {
		return false
	}

	if d.dtype == Float64 {
		return slices.EqualFunc(d.floats, o.floats, func(a, b float64) bool {
			return a == b || (math.IsNaN(a) && math.IsNaN(b))
		})
	}

	return slices.Equal(d.ints, o.ints)
}

// String renders the tensor as dtype[shape]{elements}.
func (d *Dense) String() string {
	var sb strings.Builder

	sb.WriteString(d.dtype.String())
	sb.WriteString(fmt.Sprint(d.shape))
	sb.WriteByte('{')

	for i := range d.Len() {
		if i > 0 {
			sb.WriteByte(' ')
		}

		if d.dtype == Float64 {
			sb.WriteString(strconv.FormatFloat(d.floats[i], 'g', -1, 64))
		} else {
			sb.WriteString(strconv.FormatInt(d.ints[i], 10))
		}
	}

	sb.WriteByte('}')

	return sb.String()
}

func numElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	return n
}
