// Package safeconv holds checked integer conversions for the libgit2 bindings,
// which count parents and context lines in unsigned types.
package safeconv

import "math"

// MaxInt is the largest int on this platform.
const MaxInt = int(^uint(0) >> 1)

// MaxUint32 is the largest uint32.
const MaxUint32 = uint32(math.MaxUint32)

// MustUintToInt converts v or panics when it does not fit.
func MustUintToInt(v uint) int {
	if v > uint(MaxInt) {
		panic("safeconv: uint to int overflow")
	}

	return int(v)
}

// MustIntToUint converts v or panics when it is negative.
func MustIntToUint(v int) uint {
	if v < 0 {
		panic("safeconv: negative int to uint conversion")
	}

	return uint(v)
}

// MustIntToUint32 converts v or panics outside [0, MaxUint32].
func MustIntToUint32(v int) uint32 {
	if v < 0 || v > int(MaxUint32) {
		panic("safeconv: int to uint32 out of bounds")
	}

	return uint32(v)
}
