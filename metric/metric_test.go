package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 0, SquaredL2([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-6)
	assert.InDelta(t, 25, SquaredL2([]float32{0, 0}, []float32{3, 4}), 1e-5)
}

func TestInnerProduct(t *testing.T) {
	assert.InDelta(t, 32, InnerProduct([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-5)
	assert.InDelta(t, 0, InnerProduct([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestMagnitude(t *testing.T) {
	assert.InDelta(t, 5, Magnitude([]float32{3, 4}), 1e-5)
	assert.InDelta(t, 0, Magnitude([]float32{0, 0, 0}), 1e-6)
}

func TestHamming(t *testing.T) {
	assert.Equal(t, int32(0), Hamming([]byte{0xFF}, []byte{0xFF}))
	assert.Equal(t, int32(8), Hamming([]byte{0x00}, []byte{0xFF}))
	assert.Equal(t, int32(2), Hamming([]byte{0b1010, 0b1}, []byte{0b0011, 0b1}))
	assert.Equal(t, int32(1), Hamming([]byte{0b1}, []byte{0b0}))
}
