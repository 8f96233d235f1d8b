package nn

import (
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// The gradient buffer has the same shape as the value and is accumulated
// by Backward; ZeroGrad resets it before each step.
type Parameter struct {
	name  string         // Parameter name (e.g., "conv1.kernel")
	value *tensor.Tensor // The parameter tensor
	grad  *tensor.Tensor // Gradient accumulated during the backward pass
}

// NewParameter creates a new trainable parameter with a zeroed gradient.
func NewParameter(name string, value *tensor.Tensor) *Parameter {
	return &Parameter{
		name:  name,
		value: value,
		grad:  tensor.Zeros(value.Shape()...),
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.value
}

// Grad returns the gradient tensor.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad.Fill(0)
}
