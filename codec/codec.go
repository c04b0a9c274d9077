// Package codec implements the primitive (de)serialization rules the store
// layers everything else on: fixed-width big-endian integers, NUL-terminated
// strings, and big-endian floats.
package codec

import (
	"math"
)

// MaxIntWidth is the widest integer this codec can encode or decode.
const MaxIntWidth = 8

// PutUint writes the low width*8 bits of v into dst (big-endian), truncating
// v if it doesn't fit and zero-extending dst if width exceeds what v needs.
// width must be in [1, MaxIntWidth]; dst must have length >= width.
func PutUint(dst []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		shift := uint(width-1-i) * 8
		dst[i] = byte(v >> shift)
	}
}

// Uint decodes a width-byte big-endian unsigned integer from src.
// width must be in [1, MaxIntWidth]; src must have length >= width.
func Uint(src []byte, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(src[i])
	}
	return v
}

// PutCString writes s followed by a NUL terminator into dst, which must have
// length >= len(s)+1, and returns the number of bytes written.
func PutCString(dst []byte, s string) int {
	n := copy(dst, s)
	dst[n] = 0
	return n + 1
}

// CStringSize returns the on-disk size of s as a NUL-terminated string.
func CStringSize(s string) int {
	return len(s) + 1
}

// CString reads a NUL-terminated string starting at src[0], returning the
// string (not including the terminator) and the number of bytes consumed
// including the terminator.
func CString(src []byte) (string, int) {
	for i, b := range src {
		if b == 0 {
			return string(src[:i]), i + 1
		}
	}
	// Unterminated: treat the remainder as the string (defensive; callers
	// that control the writer never produce this).
	return string(src), len(src)
}

// PutFloat32 writes v into dst as a big-endian IEEE-754 single. dst must
// have length >= 4.
func PutFloat32(dst []byte, v float32) {
	PutUint(dst, uint64(math.Float32bits(v)), 4)
}

// Float32 decodes a big-endian IEEE-754 single from src.
func Float32(src []byte) float32 {
	return math.Float32frombits(uint32(Uint(src, 4)))
}

// PutFloat64 writes v into dst as a big-endian IEEE-754 double. dst must
// have length >= 8.
func PutFloat64(dst []byte, v float64) {
	PutUint(dst, math.Float64bits(v), 8)
}

// Float64 decodes a big-endian IEEE-754 double from src.
func Float64(src []byte) float64 {
	return math.Float64frombits(Uint(src, 8))
}

// PutBool writes v as a single byte.
func PutBool(dst []byte, v bool) {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
}

// Bool decodes a single-byte boolean.
func Bool(src []byte) bool {
	return src[0] != 0
}
