package quant

import (
	"fmt"
	"math"
)

// Quantizer maps float values onto a fixed-point grid.
type Quantizer interface {
	// Quantize writes the quantized form of src into dst (which may alias src).
	Quantize(dst, src []float32)

	// Backward masks grad in place with the straight-through estimator,
	// given the pre-quantization values src.
	Backward(grad, src []float32)

	// Spec returns the bit-width pair the quantizer was built from.
	Spec() Spec

	// Scale is the value of one least-significant bit.
	Scale() float32

	// String names the quantizer QKeras-style, e.g. "quantized_bits(8,4)".
	String() string
}

// NewWeightQuantizer returns the quantizer for layer weights.
//
// A one-bit spec yields a Bipolar quantizer; anything wider a signed Bits quantizer.
func NewWeightQuantizer(spec Spec) (Quantizer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Bits == 1 {
		return &Bipolar{spec: spec, scale: math.Ldexp(1, spec.Integer)}, nil
	}
	return &Bits{
		spec:  spec,
		scale: math.Ldexp(1, spec.Integer-spec.Bits+1),
		qmin:  -math.Ldexp(1, spec.Bits-1),
		qmax:  math.Ldexp(1, spec.Bits-1) - 1,
	}, nil
}

// NewReLUQuantizer returns the unsigned activation quantizer.
func NewReLUQuantizer(spec Spec) (*ReLU, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &ReLU{
		spec:  spec,
		scale: math.Ldexp(1, spec.Integer-spec.Bits),
		qmax:  math.Ldexp(1, spec.Bits) - 1,
	}, nil
}

// Bits is the signed quantized_bits quantizer:
//
//	y = scale * clip(round_half_even(x / scale), -2^(bits-1), 2^(bits-1)-1)
//	scale = 2^(integer - bits + 1)
type Bits struct {
	spec       Spec
	scale      float64
	qmin, qmax float64
}

func (q *Bits) Quantize(dst, src []float32) {
	for i, x := range src {
		v := math.RoundToEven(float64(x) / q.scale)
		v = math.Max(q.qmin, math.Min(q.qmax, v))
		dst[i] = float32(v * q.scale)
	}
}

// Backward passes gradients through unchanged.
func (q *Bits) Backward(_, _ []float32) {}

func (q *Bits) Spec() Spec     { return q.spec }
func (q *Bits) Scale() float32 { return float32(q.scale) }

// Range returns the smallest and largest representable values.
func (q *Bits) Range() (lo, hi float32) {
	return float32(q.qmin * q.scale), float32(q.qmax * q.scale)
}

func (q *Bits) String() string {
	return fmt.Sprintf("quantized_bits(%d,%d)", q.spec.Bits, q.spec.Integer)
}

// Bipolar maps every value to ±scale with scale = 2^integer.
type Bipolar struct {
	spec  Spec
	scale float64
}

func (q *Bipolar) Quantize(dst, src []float32) {
	s := float32(q.scale)
	for i, x := range src {
		if x >= 0 {
			dst[i] = s
		} else {
			dst[i] = -s
		}
	}
}

func (q *Bipolar) Backward(_, _ []float32) {}

func (q *Bipolar) Spec() Spec     { return q.spec }
func (q *Bipolar) Scale() float32 { return float32(q.scale) }

func (q *Bipolar) String() string {
	return fmt.Sprintf("binary(alpha=%g)", q.scale)
}

// ReLU is the unsigned quantized_relu quantizer:
//
//	y = scale * clip(round_half_even(max(x, 0) / scale), 0, 2^bits - 1)
//	scale = 2^(integer - bits)
type ReLU struct {
	spec  Spec
	scale float64
	qmax  float64
}

func (q *ReLU) Quantize(dst, src []float32) {
	for i, x := range src {
		if x <= 0 {
			dst[i] = 0
			continue
		}
		v := math.Min(q.qmax, math.RoundToEven(float64(x)/q.scale))
		dst[i] = float32(v * q.scale)
	}
}

// Backward keeps the gradient where the input lies inside (0, upper] and
// zeroes it in the saturated regions.
func (q *ReLU) Backward(grad, src []float32) {
	upper := float32(q.qmax * q.scale)
	for i, x := range src {
		if x <= 0 || x > upper {
			grad[i] = 0
		}
	}
}

func (q *ReLU) Spec() Spec     { return q.spec }
func (q *ReLU) Scale() float32 { return float32(q.scale) }

// Upper returns the largest representable output.
func (q *ReLU) Upper() float32 {
	return float32(q.qmax * q.scale)
}

func (q *ReLU) String() string {
	return fmt.Sprintf("quantized_relu(%d,%d)", q.spec.Bits, q.spec.Integer)
}
