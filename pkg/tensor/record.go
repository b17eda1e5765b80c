package tensor

import "strings"

// Record is one pipeline element: an ordered tuple of components.
type Record []Value

// Equal reports whether both records have equal components in the same order.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}

	for i := range r {
		if !r[i].Equal(other[i]) {
			return false
		}
	}

	return true
}

// String renders the record as (c0, c1, ...).
func (r Record) String() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = v.String()
	}

	return "(" + strings.Join(parts, ", ") + ")"
}
