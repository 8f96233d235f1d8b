// Package quant implements the fixed-point quantizers used for quantization-aware
// training.
//
// Two quantizer families mirror QKeras:
//   - Bits (quantized_bits): signed weights on a power-of-two grid
//   - ReLU (quantized_relu): unsigned activations on a power-of-two grid
//
// A one-bit weight spec selects the Bipolar quantizer. All quantizers use
// straight-through gradients so the float shadow weights keep learning.
package quant

import (
	"errors"
	"fmt"
)

// MaxBits is the widest supported quantizer.
const MaxBits = 32

// ErrInvalidSpec is returned for a bit-width pair that cannot describe a
// fixed-point format.
var ErrInvalidSpec = errors.New("invalid quantization spec")

// Spec is a (total bit width, integer bit width) pair.
//
// For signed quantizers Integer excludes the sign bit, so the representable
// range is [-2^Integer, 2^Integer) with Bits-1-Integer fractional bits.
type Spec struct {
	Bits    int `yaml:"bits" json:"bits"`
	Integer int `yaml:"integer" json:"integer"`
}

// Validate checks 1 <= Bits <= MaxBits and 0 <= Integer <= Bits.
func (s Spec) Validate() error {
	if s.Bits < 1 || s.Bits > MaxBits {
		return fmt.Errorf("%w: bits=%d must be in [1, %d]", ErrInvalidSpec, s.Bits, MaxBits)
	}
	if s.Integer < 0 {
		return fmt.Errorf("%w: integer=%d must not be negative", ErrInvalidSpec, s.Integer)
	}
	if s.Integer > s.Bits {
		return fmt.Errorf("%w: integer=%d exceeds bits=%d", ErrInvalidSpec, s.Integer, s.Bits)
	}
	return nil
}

// String returns "(bits,integer)".
func (s Spec) String() string {
	return fmt.Sprintf("(%d,%d)", s.Bits, s.Integer)
}
