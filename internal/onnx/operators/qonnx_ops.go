package operators

import (
	"fmt"
	"math"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// QONNX operator types.
const (
	OpQuant        = "Quant"
	OpBipolarQuant = "BipolarQuant"
	OpTrunc        = "Trunc"
)

// registerQONNXOps adds the quantization custom operators to the registry.
func (r *Registry) registerQONNXOps() {
	r.Register(DomainQONNX, OpQuant, handleQuant)
	r.Register(DomainQONNX, OpBipolarQuant, handleBipolarQuant)
	r.Register(DomainQONNX, OpTrunc, handleTrunc)
}

// Rounder maps a real value onto an integer according to a QONNX
// rounding_mode attribute.
type Rounder func(float64) float64

// ResolveRounding returns the rounding function for a rounding_mode.
func ResolveRounding(mode string) (Rounder, error) {
	switch mode {
	case "ROUND", "HALF_EVEN":
		return math.RoundToEven, nil
	case "CEIL":
		return math.Ceil, nil
	case "FLOOR":
		return math.Floor, nil
	case "ROUND_TO_ZERO":
		return math.Trunc, nil
	default:
		return nil, fmt.Errorf("unknown rounding_mode %q", mode)
	}
}

// IntRange returns the integer limits of a quantized grid.
func IntRange(signed, narrow bool, bitWidth float64) (lo, hi float64) {
	switch {
	case signed && narrow:
		return -math.Exp2(bitWidth-1) + 1, math.Exp2(bitWidth-1) - 1
	case signed:
		return -math.Exp2(bitWidth-1), math.Exp2(bitWidth-1) - 1
	case narrow:
		return 0, math.Exp2(bitWidth) - 2
	default:
		return 0, math.Exp2(bitWidth) - 1
	}
}

// param broadcasts a quantization parameter tensor against x. Scalars and
// trailing-dim shapes are accepted.
func param(op, name string, p, x *tensor.Tensor) (func(i int) float64, error) {
	d := p.Data()
	switch {
	case len(d) == 1:
		v := float64(d[0])
		return func(int) float64 { return v }, nil
	case isSuffix(x.Shape(), p.Shape()):
		n := len(d)
		return func(i int) float64 { return float64(d[i%n]) }, nil
	default:
		return nil, fmt.Errorf("%s: %s shape %v does not broadcast to %v", op, name, p.Shape(), x.Shape())
	}
}

func scalarParam(op, name string, p *tensor.Tensor) (float64, error) {
	if p.Len() != 1 {
		return 0, fmt.Errorf("%s: %s must be a scalar, got shape %v", op, name, p.Shape())
	}
	return float64(p.Data()[0]), nil
}

// handleQuant implements
//
//	y = (clip(round(x/scale + zeropt), min_int, max_int) - zeropt) * scale
//
// with inputs (x, scale, zeropt, bitwidth) and attributes signed, narrow
// and rounding_mode.
func handleQuant(_ *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("quant", inputs, 4, 4); err != nil {
		return nil, err
	}
	x := inputs[0]
	scale, err := param("quant", "scale", inputs[1], x)
	if err != nil {
		return nil, err
	}
	zeropt, err := param("quant", "zeropt", inputs[2], x)
	if err != nil {
		return nil, err
	}
	bw, err := scalarParam("quant", "bitwidth", inputs[3])
	if err != nil {
		return nil, err
	}
	if bw < 1 {
		return nil, fmt.Errorf("quant: bitwidth must be >= 1, got %v", bw)
	}
	round, err := ResolveRounding(GetAttrString(node, "rounding_mode", "ROUND"))
	if err != nil {
		return nil, fmt.Errorf("quant: %w", err)
	}
	lo, hi := IntRange(GetAttrInt(node, "signed", 1) != 0, GetAttrInt(node, "narrow", 0) != 0, bw)

	out := tensor.Zeros(x.Shape()...)
	dst := out.Data()
	for i, v := range x.Data() {
		s, z := scale(i), zeropt(i)
		q := round(float64(v)/s + z)
		q = min(max(q, lo), hi)
		dst[i] = float32((q - z) * s)
	}
	return one(out), nil
}

// handleBipolarQuant maps x to +scale when x >= 0 and -scale otherwise.
func handleBipolarQuant(_ *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("bipolarQuant", inputs, 2, 2); err != nil {
		return nil, err
	}
	x := inputs[0]
	scale, err := param("bipolarQuant", "scale", inputs[1], x)
	if err != nil {
		return nil, err
	}
	out := tensor.Zeros(x.Shape()...)
	dst := out.Data()
	for i, v := range x.Data() {
		s := float32(scale(i))
		if v >= 0 {
			dst[i] = s
		} else {
			dst[i] = -s
		}
	}
	return one(out), nil
}

// handleTrunc drops the (input_bit_width - output_bit_width) least
// significant bits of an already quantized tensor:
//
//	q = round(x/scale + zeropt)
//	y = (rounding(q / 2^(in-out)) - zeropt) * scale * 2^(in-out)
//
// Inputs are (x, scale, zeropt, input_bit_width, output_bit_width).
func handleTrunc(_ *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("trunc", inputs, 5, 5); err != nil {
		return nil, err
	}
	x := inputs[0]
	scale, err := param("trunc", "scale", inputs[1], x)
	if err != nil {
		return nil, err
	}
	zeropt, err := param("trunc", "zeropt", inputs[2], x)
	if err != nil {
		return nil, err
	}
	inBW, err := scalarParam("trunc", "input_bit_width", inputs[3])
	if err != nil {
		return nil, err
	}
	outBW, err := scalarParam("trunc", "output_bit_width", inputs[4])
	if err != nil {
		return nil, err
	}
	if outBW < 1 || outBW > inBW {
		return nil, fmt.Errorf("trunc: output_bit_width %v must be in [1, %v]", outBW, inBW)
	}
	round, err := ResolveRounding(GetAttrString(node, "rounding_mode", "FLOOR"))
	if err != nil {
		return nil, fmt.Errorf("trunc: %w", err)
	}
	shift := math.Exp2(inBW - outBW)

	out := tensor.Zeros(x.Shape()...)
	dst := out.Data()
	for i, v := range x.Data() {
		s, z := scale(i), zeropt(i)
		q := math.RoundToEven(float64(v)/s + z)
		q = round(q / shift)
		dst[i] = float32((q - z) * s * shift)
	}
	return one(out), nil
}
