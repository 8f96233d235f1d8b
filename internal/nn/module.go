// Package nn implements the layers of the quantization-aware network.
//
// This package provides:
//   - Layer interface: Forward/Backward over NCHW batches plus parameters
//   - Parameter: Trainable tensor with its gradient buffer
//   - QConv2D, QDense: Convolution and dense layers with quantized weights
//   - QActivation: Quantized ReLU activation
//   - MaxPool2D, Flatten, Activation: Unquantized plumbing layers
//   - Builder/Model: Validated, immutable layer graph
//   - CategoricalCrossEntropy: Loss over normalized sigmoid outputs
//
// Gradients are computed layer by layer: every Forward caches what its
// Backward needs, so a Model must not be shared between goroutines.
package nn

import (
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Kind identifies a layer type. Values follow Keras/QKeras class names.
type Kind string

// Layer kinds.
const (
	KindInput       Kind = "InputLayer"
	KindQConv2D     Kind = "QConv2D"
	KindQActivation Kind = "QActivation"
	KindMaxPool2D   Kind = "MaxPooling2D"
	KindFlatten     Kind = "Flatten"
	KindQDense      Kind = "QDense"
	KindActivation  Kind = "Activation"
)

// Layer is a node of the network.
//
// Shapes passed to OutputShape exclude the batch dimension. Forward and
// Backward operate on batched tensors.
type Layer interface {
	// Name returns the unique node name (e.g., "conv1").
	Name() string

	// Kind returns the layer type.
	Kind() Kind

	// OutputShape infers the per-example output shape for a per-example input shape.
	OutputShape(in tensor.Shape) (tensor.Shape, error)

	// Forward computes the layer output and caches state for Backward.
	Forward(x *tensor.Tensor) *tensor.Tensor

	// Backward accumulates parameter gradients and returns the gradient
	// with respect to the last Forward input.
	Backward(grad *tensor.Tensor) *tensor.Tensor

	// Parameters returns trainable parameters (empty for stateless layers).
	Parameters() []*Parameter
}

// Quantized is implemented by layers carrying a quantizer.
type Quantized interface {
	Layer
	Quantizer() quant.Quantizer
}
