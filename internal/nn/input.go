package nn

import (
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Input is the graph entry. It accepts channels-last images [N,H,W,C], as the
// dataset stage produces them, and hands channels-first [N,C,H,W] to the
// convolution stack.
type Input struct {
	name  string
	shape tensor.Shape // [H, W, C]
}

// NewInput creates the input node for per-example shape [H, W, C].
func NewInput(name string, shape tensor.Shape) *Input {
	return &Input{name: name, shape: shape.Clone()}
}

func (in *Input) Name() string             { return in.name }
func (in *Input) Kind() Kind               { return KindInput }
func (in *Input) Parameters() []*Parameter { return nil }

// Shape returns the declared [H, W, C] input shape.
func (in *Input) Shape() tensor.Shape { return in.shape }

func (in *Input) OutputShape(s tensor.Shape) (tensor.Shape, error) {
	if !s.Equal(in.shape) {
		return nil, fmt.Errorf("%s: input shape %v != declared %v", in.name, s, in.shape)
	}
	return tensor.Shape{s[2], s[0], s[1]}, nil
}

func (in *Input) Forward(x *tensor.Tensor) *tensor.Tensor {
	s := x.Shape()
	if len(s) != 4 || !s[1:].Equal(in.shape) {
		panic(fmt.Sprintf("input: expected [N,%d,%d,%d], got %v", in.shape[0], in.shape[1], in.shape[2], s))
	}
	return tensor.NHWCToNCHW(x)
}

func (in *Input) Backward(grad *tensor.Tensor) *tensor.Tensor {
	return tensor.NCHWToNHWC(grad)
}
