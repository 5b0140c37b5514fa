// Package metric provides the distance kernels shared by all index
// variants. Float32 kernels dispatch to SIMD implementations via vek.
package metric

import (
	"math/bits"

	"github.com/viterin/vek/vek32"
)

// SquaredL2 returns the squared Euclidean distance between two vectors.
// The caller guarantees len(a) == len(b).
func SquaredL2(a, b []float32) float32 {
	d := vek32.Distance(a, b)
	return d * d
}

// InnerProduct returns the dot product of two vectors.
// The caller guarantees len(a) == len(b).
func InnerProduct(a, b []float32) float32 {
	return vek32.Dot(a, b)
}

// Magnitude returns the Euclidean norm of a vector.
func Magnitude(v []float32) float32 {
	return vek32.Norm(v)
}

// Hamming returns the number of differing bits between two packed-bit
// codes of equal length.
func Hamming(a, b []byte) int32 {
	var n int32
	for i := range a {
		n += int32(bits.OnesCount8(a[i] ^ b[i]))
	}
	return n
}
