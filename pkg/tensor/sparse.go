package tensor

import (
	"fmt"
	"slices"
)

// Sparse is a COO sparse tensor: Indices[i] locates Values element i inside DenseShape.
type Sparse struct {
	indices    [][]int64
	values     *Dense
	denseShape []int64
}

// NewSparse validates and builds a sparse value. values must be a vector with one
// element per index row, and every index row must have len(denseShape) coordinates.
func NewSparse(indices [][]int64, values *Dense, denseShape []int64) (*Sparse, error) {
	if len(values.shape) != 1 || values.shape[0] != len(indices) {
		return nil, fmt.Errorf("%w: %d indices for values of shape %v", ErrShapeMismatch, len(indices), values.shape)
	}

	rows := make([][]int64, len(indices))

	for i, idx := range indices {
		if len(idx) != len(denseShape) {
			return nil, fmt.Errorf("%w: index %v has rank %d, dense shape rank %d", ErrShapeMismatch, idx, len(idx), len(denseShape))
		}

		for axis, coord := range idx {
			if coord < 0 || coord >= denseShape[axis] {
				return nil, fmt.Errorf("%w: index %v outside dense shape %v", ErrIndexRange, idx, denseShape)
			}
		}

		rows[i] = slices.Clone(idx)
	}

	return &Sparse{indices: rows, values: values, denseShape: slices.Clone(denseShape)}, nil
}

// Indices returns a copy of the index rows.
func (s *Sparse) Indices() [][]int64 {
	out := make([][]int64, len(s.indices))
	for i, idx := range s.indices {
		out[i] = slices.Clone(idx)
	}

	return out
}

// Values returns the non-zero values vector.
func (s *Sparse) Values() *Dense { return s.values }

// DenseShape returns a copy of the logical shape.
func (s *Sparse) DenseShape() []int64 { return slices.Clone(s.denseShape) }

// Equal implements Value.
func (s *Sparse) Equal(other Value) bool {
	o, ok := other.(*Sparse)
	if !ok || !slices.Equal(s.denseShape, o.denseShape) || len(s.indices) != len(o.indices) {
		return false
	}

	for i := range s.indices {
		if !slices.Equal(s.indices[i], o.indices[i]) {
			return false
		}
	}

	return s.values.Equal(o.values)
}

// String renders the sparse value as sparse(shape){indices -> values}.
func (s *Sparse) String() string {
	return fmt.Sprintf("sparse%v{%v -> %s}", s.denseShape, s.indices, s.values)
}
