package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidate(t *testing.T) {
	for bits := 1; bits <= MaxBits; bits++ {
		for integer := 0; integer <= bits; integer++ {
			require.NoError(t, Spec{Bits: bits, Integer: integer}.Validate(), "bits=%d integer=%d", bits, integer)
		}
		assert.ErrorIs(t, Spec{Bits: bits, Integer: bits + 1}.Validate(), ErrInvalidSpec)
	}

	tests := []struct {
		name string
		spec Spec
	}{
		{"zero bits", Spec{Bits: 0, Integer: 0}},
		{"too wide", Spec{Bits: 33, Integer: 1}},
		{"negative integer", Spec{Bits: 8, Integer: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.spec.Validate(), ErrInvalidSpec)
		})
	}
}

func TestBitsQuantizer(t *testing.T) {
	q, err := NewWeightQuantizer(Spec{Bits: 8, Integer: 4})
	require.NoError(t, err)
	require.IsType(t, &Bits{}, q)
	assert.Equal(t, float32(0.125), q.Scale())
	assert.Equal(t, "quantized_bits(8,4)", q.String())

	src := []float32{0.3, 100, -100, 0.0625, 0.1875, -0.3}
	dst := make([]float32, len(src))
	q.Quantize(dst, src)
	assert.Equal(t, []float32{0.25, 15.875, -16, 0, 0.25, -0.25}, dst)

	lo, hi := q.(*Bits).Range()
	assert.Equal(t, float32(-16), lo)
	assert.Equal(t, float32(15.875), hi)
}

func TestBitsQuantizerIsIdempotent(t *testing.T) {
	q, err := NewWeightQuantizer(Spec{Bits: 6, Integer: 1})
	require.NoError(t, err)

	src := []float32{-3, -0.71, 0.02, 0.5, 1.9, 7}
	once := make([]float32, len(src))
	twice := make([]float32, len(src))
	q.Quantize(once, src)
	q.Quantize(twice, once)
	assert.Equal(t, once, twice)
}

func TestBitsBackwardIsStraightThrough(t *testing.T) {
	q, err := NewWeightQuantizer(Spec{Bits: 4, Integer: 0})
	require.NoError(t, err)
	grad := []float32{1, -2, 3}
	q.Backward(grad, []float32{100, 0, -100})
	assert.Equal(t, []float32{1, -2, 3}, grad)
}

func TestBipolarQuantizer(t *testing.T) {
	q, err := NewWeightQuantizer(Spec{Bits: 1, Integer: 0})
	require.NoError(t, err)
	require.IsType(t, &Bipolar{}, q)

	dst := make([]float32, 3)
	q.Quantize(dst, []float32{-0.2, 0, 3})
	assert.Equal(t, []float32{-1, 1, 1}, dst)
}

func TestReLUQuantizer(t *testing.T) {
	q, err := NewReLUQuantizer(Spec{Bits: 8, Integer: 4})
	require.NoError(t, err)
	assert.Equal(t, float32(0.0625), q.Scale())
	assert.Equal(t, float32(15.9375), q.Upper())

	src := []float32{-1, 0.3, 100, 0}
	dst := make([]float32, len(src))
	q.Quantize(dst, src)
	assert.Equal(t, []float32{0, 0.3125, 15.9375, 0}, dst)

	grad := []float32{1, 1, 1, 1}
	q.Backward(grad, src)
	assert.Equal(t, []float32{0, 1, 0, 0}, grad)
}

func TestConstructorsRejectInvalidSpec(t *testing.T) {
	_, err := NewWeightQuantizer(Spec{Bits: 4, Integer: 5})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = NewReLUQuantizer(Spec{Bits: 0})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}
