// Package safeconv provides integer conversions that never silently wrap.
package safeconv

import "math"

// MustIntToUint64 converts int to uint64, panics if negative.
// Use only when negative values are logically impossible.
func MustIntToUint64(v int) uint64 {
	if v < 0 {
		panic("safeconv: negative int to uint64 conversion")
	}

	return uint64(v)
}

// ClampInt64ToInt converts int64 to int, saturating at the int bounds.
func ClampInt64ToInt(v int64) int {
	switch {
	case v > math.MaxInt:
		return math.MaxInt
	case v < math.MinInt:
		return math.MinInt
	default:
		return int(v)
	}
}
