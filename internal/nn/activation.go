package nn

import (
	"fmt"
	"math"

	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// QActivation applies quantized ReLU element-wise.
type QActivation struct {
	name      string
	quantizer *quant.ReLU
	input     *tensor.Tensor
}

// NewQActivation creates a quantized ReLU activation.
func NewQActivation(name string, q *quant.ReLU) *QActivation {
	return &QActivation{name: name, quantizer: q}
}

func (a *QActivation) Name() string               { return a.name }
func (a *QActivation) Kind() Kind                 { return KindQActivation }
func (a *QActivation) Quantizer() quant.Quantizer { return a.quantizer }
func (a *QActivation) Parameters() []*Parameter   { return nil }

func (a *QActivation) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	return in.Clone(), nil
}

func (a *QActivation) Forward(x *tensor.Tensor) *tensor.Tensor {
	a.input = x
	out := tensor.Zeros(x.Shape()...)
	a.quantizer.Quantize(out.Data(), x.Data())
	return out
}

func (a *QActivation) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dIn := grad.Clone()
	a.quantizer.Backward(dIn.Data(), a.input.Data())
	return dIn
}

// String returns a string representation of the layer.
func (a *QActivation) String() string {
	return fmt.Sprintf("QActivation(name=%s, activation=%s)", a.name, a.quantizer)
}

// ActivationFunc names an unquantized activation.
type ActivationFunc string

// Supported unquantized activations.
const (
	Sigmoid ActivationFunc = "sigmoid"
	ReLU    ActivationFunc = "relu"
	Linear  ActivationFunc = "linear"
)

// Activation applies an unquantized activation. The output layer uses it to
// keep full precision on the class scores.
type Activation struct {
	name   string
	fn     ActivationFunc
	input  *tensor.Tensor
	output *tensor.Tensor
}

// NewActivation creates an unquantized activation layer.
func NewActivation(name string, fn ActivationFunc) (*Activation, error) {
	switch fn {
	case Sigmoid, ReLU, Linear:
	default:
		return nil, fmt.Errorf("unsupported activation %q", fn)
	}
	return &Activation{name: name, fn: fn}, nil
}

func (a *Activation) Name() string             { return a.name }
func (a *Activation) Kind() Kind               { return KindActivation }
func (a *Activation) Parameters() []*Parameter { return nil }

// Func returns the activation function.
func (a *Activation) Func() ActivationFunc { return a.fn }

func (a *Activation) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	return in.Clone(), nil
}

func (a *Activation) Forward(x *tensor.Tensor) *tensor.Tensor {
	a.input = x
	out := tensor.Zeros(x.Shape()...)
	src, dst := x.Data(), out.Data()
	switch a.fn {
	case Sigmoid:
		for i, v := range src {
			dst[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
		}
	case ReLU:
		for i, v := range src {
			dst[i] = max(v, 0)
		}
	case Linear:
		copy(dst, src)
	}
	a.output = out
	return out
}

func (a *Activation) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dIn := grad.Clone()
	d := dIn.Data()
	switch a.fn {
	case Sigmoid:
		for i, y := range a.output.Data() {
			d[i] *= y * (1 - y)
		}
	case ReLU:
		for i, x := range a.input.Data() {
			if x <= 0 {
				d[i] = 0
			}
		}
	case Linear:
	}
	return dIn
}
