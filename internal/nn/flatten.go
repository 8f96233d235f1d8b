package nn

import (
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Flatten collapses every non-batch dimension into one, in C,H,W order.
type Flatten struct {
	name    string
	inShape tensor.Shape
}

// NewFlatten creates a flatten layer.
func NewFlatten(name string) *Flatten {
	return &Flatten{name: name}
}

func (f *Flatten) Name() string             { return f.name }
func (f *Flatten) Kind() Kind               { return KindFlatten }
func (f *Flatten) Parameters() []*Parameter { return nil }

func (f *Flatten) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%s: cannot flatten a scalar", f.name)
	}
	return tensor.Shape{in.NumElements()}, nil
}

func (f *Flatten) Forward(x *tensor.Tensor) *tensor.Tensor {
	s := x.Shape()
	f.inShape = s.Clone()
	return x.Reshape(s[0], x.Len()/s[0])
}

func (f *Flatten) Backward(grad *tensor.Tensor) *tensor.Tensor {
	return grad.Reshape(f.inShape...)
}
