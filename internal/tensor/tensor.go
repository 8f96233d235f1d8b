// Package tensor provides the dense float32 tensor used by the training engine.
//
// Tensors are row-major and own their backing slice. Image batches flowing
// through the network use NCHW layout; the dataset stage produces NHWC
// images which the model input layer transposes once.
package tensor

import "fmt"

// Tensor is a dense, row-major float32 array with a fixed shape.
type Tensor struct {
	shape Shape
	data  []float32
}

// Zeros creates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	s := Shape(shape).Clone()
	if err := s.Validate(); err != nil {
		panic(fmt.Sprintf("tensor.Zeros: %v", err))
	}
	return &Tensor{shape: s, data: make([]float32, s.NumElements())}
}

// FromSlice wraps data in a tensor of the given shape. The slice is not copied.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	s := Shape(shape).Clone()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(data) != s.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), s, s.NumElements())
	}
	return &Tensor{shape: s, data: data}, nil
}

// Shape returns the tensor shape. Callers must not modify it.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the backing slice.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// Reshape returns a view sharing the same data with a new shape.
//
// Panics if the element count changes.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	s := Shape(shape).Clone()
	if s.NumElements() != len(t.data) {
		panic(fmt.Sprintf("tensor.Reshape: cannot reshape %v into %v", t.shape, s))
	}
	return &Tensor{shape: s, data: t.data}
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// CopyFrom copies src into t. Shapes must hold the same number of elements.
func (t *Tensor) CopyFrom(src *Tensor) {
	if len(src.data) != len(t.data) {
		panic(fmt.Sprintf("tensor.CopyFrom: size mismatch %v vs %v", t.shape, src.shape))
	}
	copy(t.data, src.data)
}

// NHWCToNCHW transposes a [N,H,W,C] tensor into a new [N,C,H,W] tensor.
func NHWCToNCHW(t *Tensor) *Tensor {
	s := t.shape
	if len(s) != 4 {
		panic(fmt.Sprintf("tensor.NHWCToNCHW: expected 4D tensor, got %v", s))
	}
	n, h, w, c := s[0], s[1], s[2], s[3]
	out := Zeros(n, c, h, w)
	src, dst := t.data, out.data
	for b := 0; b < n; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := ((b*h+y)*w + x) * c
				for ch := 0; ch < c; ch++ {
					dst[((b*c+ch)*h+y)*w+x] = src[base+ch]
				}
			}
		}
	}
	return out
}

// NCHWToNHWC is the inverse of NHWCToNCHW.
func NCHWToNHWC(t *Tensor) *Tensor {
	s := t.shape
	if len(s) != 4 {
		panic(fmt.Sprintf("tensor.NCHWToNHWC: expected 4D tensor, got %v", s))
	}
	n, c, h, w := s[0], s[1], s[2], s[3]
	out := Zeros(n, h, w, c)
	src, dst := t.data, out.data
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					dst[((b*h+y)*w+x)*c+ch] = src[((b*c+ch)*h+y)*w+x]
				}
			}
		}
	}
	return out
}

// Argmax returns the index of the largest element in each row of a 2D tensor.
func Argmax(t *Tensor) []int {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor.Argmax: expected 2D tensor, got %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := t.data[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out
}
