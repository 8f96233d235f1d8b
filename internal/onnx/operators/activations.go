package operators

import (
	"math"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// registerActivations adds activation operators to the registry.
func (r *Registry) registerActivations() {
	r.Register(DomainONNX, "Relu", handleRelu)
	r.Register(DomainONNX, "Sigmoid", handleSigmoid)
}

func handleRelu(_ *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("relu", inputs, 1, 1); err != nil {
		return nil, err
	}
	return one(mapElements(inputs[0], func(v float32) float32 { return max(v, 0) })), nil
}

func handleSigmoid(_ *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("sigmoid", inputs, 1, 1); err != nil {
		return nil, err
	}
	return one(mapElements(inputs[0], func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})), nil
}

func mapElements(x *tensor.Tensor, f func(float32) float32) *tensor.Tensor {
	out := tensor.Zeros(x.Shape()...)
	dst := out.Data()
	for i, v := range x.Data() {
		dst[i] = f(v)
	}
	return out
}
