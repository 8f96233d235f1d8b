package nn

import (
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/parallel"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// MaxPool2D is 2D max pooling with "valid" padding and stride equal to the pool size.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, height/pool, width/pool] (floor division)
type MaxPool2D struct {
	name     string
	poolSize int
	inShape  tensor.Shape
	argmax   []int // flat input index of each output's maximum
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D(name string, poolSize int) *MaxPool2D {
	if poolSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid pool size %d", poolSize))
	}
	return &MaxPool2D{name: name, poolSize: poolSize}
}

func (m *MaxPool2D) Name() string             { return m.name }
func (m *MaxPool2D) Kind() Kind               { return KindMaxPool2D }
func (m *MaxPool2D) Parameters() []*Parameter { return nil }

// PoolSize returns the pooling window edge (also the stride).
func (m *MaxPool2D) PoolSize() int { return m.poolSize }

func (m *MaxPool2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("%s: expected [C,H,W] input, got %v", m.name, in)
	}
	if in[1] < m.poolSize || in[2] < m.poolSize {
		return nil, fmt.Errorf("%s: input %dx%d smaller than pool size %d", m.name, in[1], in[2], m.poolSize)
	}
	return tensor.Shape{in[0], in[1] / m.poolSize, in[2] / m.poolSize}, nil
}

func (m *MaxPool2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	s := x.Shape()
	if len(s) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(s)))
	}
	n, ch, h, w := s[0], s[1], s[2], s[3]
	p := m.poolSize
	oh, ow := h/p, w/p

	out := tensor.Zeros(n, ch, oh, ow)
	m.inShape = s.Clone()
	m.argmax = make([]int, out.Len())
	src, dst := x.Data(), out.Data()

	parallel.ForBatch(n, ch, func(b, c int) {
		plane := (b*ch + c) * h * w
		oplane := (b*ch + c) * oh * ow
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				best := plane + (oy*p)*w + ox*p
				for ky := 0; ky < p; ky++ {
					for kx := 0; kx < p; kx++ {
						idx := plane + (oy*p+ky)*w + ox*p + kx
						if src[idx] > src[best] {
							best = idx
						}
					}
				}
				dst[oplane+oy*ow+ox] = src[best]
				m.argmax[oplane+oy*ow+ox] = best
			}
		}
	}, parallel.KernelConfig())

	return out
}

// Backward routes each output gradient to the input element that won the max.
func (m *MaxPool2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if m.argmax == nil {
		panic("maxpool2d: Backward called before Forward")
	}
	dIn := tensor.Zeros(m.inShape...)
	dst := dIn.Data()
	for i, g := range grad.Data() {
		dst[m.argmax[i]] += g
	}
	return dIn
}

// String returns a string representation of the layer.
func (m *MaxPool2D) String() string {
	return fmt.Sprintf("MaxPool2D(name=%s, pool_size=%d, stride=%d)", m.name, m.poolSize, m.poolSize)
}
