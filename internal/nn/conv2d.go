package nn

import (
	"fmt"
	"math/rand"

	"github.com/jonGuti13/qonnx2mdc/internal/parallel"
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// QConv2D is a 2D convolution with quantized weights and "same" padding.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [filters, in_channels, kernel, kernel]
// Bias shape:   [filters] (kept in float)
// Output shape: [batch, filters, height, width]
//
// The float kernel is the trainable shadow copy; every Forward convolves
// with its quantized image, and gradients flow back straight-through.
type QConv2D struct {
	name        string
	inChannels  int
	filters     int
	kernelSize  int
	padBegin    int
	padEnd      int
	quantizer   quant.Quantizer
	kernel      *Parameter
	bias        *Parameter
	qKernel     *tensor.Tensor // quantized kernel used by the last Forward
	input       *tensor.Tensor // cached input for Backward
	parallelCfg parallel.Config
}

// NewQConv2D creates a convolution layer with Glorot-uniform kernel and zero bias.
func NewQConv2D(name string, inChannels, filters, kernelSize int, q quant.Quantizer, rng *rand.Rand) *QConv2D {
	if inChannels <= 0 || filters <= 0 {
		panic(fmt.Sprintf("qconv2d: invalid channels in=%d, out=%d", inChannels, filters))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("qconv2d: invalid kernel size %d", kernelSize))
	}

	// fan_in = in_channels * k * k, fan_out = filters * k * k
	receptive := kernelSize * kernelSize
	kernel := GlorotUniform(inChannels*receptive, filters*receptive, rng, filters, inChannels, kernelSize, kernelSize)

	// "same" padding for stride 1: the extra row/column goes to the end.
	padBegin := (kernelSize - 1) / 2
	return &QConv2D{
		name:        name,
		inChannels:  inChannels,
		filters:     filters,
		kernelSize:  kernelSize,
		padBegin:    padBegin,
		padEnd:      kernelSize - 1 - padBegin,
		quantizer:   q,
		kernel:      NewParameter(name+".kernel", kernel),
		bias:        NewParameter(name+".bias", tensor.Zeros(filters)),
		qKernel:     tensor.Zeros(filters, inChannels, kernelSize, kernelSize),
		parallelCfg: parallel.KernelConfig(),
	}
}

func (c *QConv2D) Name() string               { return c.name }
func (c *QConv2D) Kind() Kind                 { return KindQConv2D }
func (c *QConv2D) Quantizer() quant.Quantizer { return c.quantizer }
func (c *QConv2D) Parameters() []*Parameter   { return []*Parameter{c.kernel, c.bias} }

// Kernel returns the float kernel parameter.
func (c *QConv2D) Kernel() *Parameter { return c.kernel }

// Bias returns the bias parameter.
func (c *QConv2D) Bias() *Parameter { return c.bias }

// Filters returns the number of output channels.
func (c *QConv2D) Filters() int { return c.filters }

// KernelSize returns the square kernel edge.
func (c *QConv2D) KernelSize() int { return c.kernelSize }

// Pads returns ONNX-ordered padding: [top, left, bottom, right].
func (c *QConv2D) Pads() [4]int {
	return [4]int{c.padBegin, c.padBegin, c.padEnd, c.padEnd}
}

// QuantizedKernel returns the kernel as the network sees it.
func (c *QConv2D) QuantizedKernel() *tensor.Tensor {
	q := tensor.Zeros(c.kernel.Tensor().Shape()...)
	c.quantizer.Quantize(q.Data(), c.kernel.Tensor().Data())
	return q
}

func (c *QConv2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 3 {
		return nil, fmt.Errorf("%s: expected [C,H,W] input, got %v", c.name, in)
	}
	if in[0] != c.inChannels {
		return nil, fmt.Errorf("%s: input channels %d != expected %d", c.name, in[0], c.inChannels)
	}
	return tensor.Shape{c.filters, in[1], in[2]}, nil
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, filters, height, width].
func (c *QConv2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	s := x.Shape()
	if len(s) != 4 {
		panic(fmt.Sprintf("qconv2d: expected 4D input [N,C,H,W], got %dD", len(s)))
	}
	if s[1] != c.inChannels {
		panic(fmt.Sprintf("qconv2d: input channels %d != expected %d", s[1], c.inChannels))
	}
	n, h, w := s[0], s[2], s[3]
	c.input = x
	c.quantizer.Quantize(c.qKernel.Data(), c.kernel.Tensor().Data())

	out := tensor.Zeros(n, c.filters, h, w)
	in, wq, b, dst := x.Data(), c.qKernel.Data(), c.bias.Tensor().Data(), out.Data()
	k, cin, pad := c.kernelSize, c.inChannels, c.padBegin

	parallel.ForBatch(n, c.filters, func(bi, o int) {
		plane := dst[(bi*c.filters+o)*h*w : (bi*c.filters+o+1)*h*w]
		for i := range plane {
			plane[i] = b[o]
		}
		for ci := 0; ci < cin; ci++ {
			src := in[(bi*cin+ci)*h*w : (bi*cin+ci+1)*h*w]
			wk := wq[(o*cin+ci)*k*k : (o*cin+ci+1)*k*k]
			for ky := 0; ky < k; ky++ {
				for kx := 0; kx < k; kx++ {
					wv := wk[ky*k+kx]
					if wv == 0 {
						continue
					}
					dy, dx := ky-pad, kx-pad
					y0, y1 := max(0, -dy), min(h, h-dy)
					x0, x1 := max(0, -dx), min(w, w-dx)
					for y := y0; y < y1; y++ {
						row := plane[y*w : (y+1)*w]
						srow := src[(y+dy)*w : (y+dy+1)*w]
						for xx := x0; xx < x1; xx++ {
							row[xx] += wv * srow[xx+dx]
						}
					}
				}
			}
		}
	}, c.parallelCfg)

	return out
}

// Backward accumulates kernel/bias gradients and returns dL/dinput.
func (c *QConv2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if c.input == nil {
		panic("qconv2d: Backward called before Forward")
	}
	s := c.input.Shape()
	n, h, w := s[0], s[2], s[3]
	k, cin, pad := c.kernelSize, c.inChannels, c.padBegin
	in, g, wq := c.input.Data(), grad.Data(), c.qKernel.Data()
	dW, dB := c.kernel.Grad().Data(), c.bias.Grad().Data()

	// Kernel and bias gradients: each filter owns its slice.
	parallel.For(c.filters, func(o int) {
		for bi := 0; bi < n; bi++ {
			gp := g[(bi*c.filters+o)*h*w : (bi*c.filters+o+1)*h*w]
			var sum float32
			for _, v := range gp {
				sum += v
			}
			dB[o] += sum
			for ci := 0; ci < cin; ci++ {
				src := in[(bi*cin+ci)*h*w : (bi*cin+ci+1)*h*w]
				dk := dW[(o*cin+ci)*k*k : (o*cin+ci+1)*k*k]
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						dy, dx := ky-pad, kx-pad
						y0, y1 := max(0, -dy), min(h, h-dy)
						x0, x1 := max(0, -dx), min(w, w-dx)
						var acc float32
						for y := y0; y < y1; y++ {
							grow := gp[y*w : (y+1)*w]
							srow := src[(y+dy)*w : (y+dy+1)*w]
							for xx := x0; xx < x1; xx++ {
								acc += grow[xx] * srow[xx+dx]
							}
						}
						dk[ky*k+kx] += acc
					}
				}
			}
		}
	}, c.parallelCfg)
	c.quantizer.Backward(dW, c.kernel.Tensor().Data())

	// Input gradient: each image owns its slice.
	dIn := tensor.Zeros(s...)
	dst := dIn.Data()
	parallel.For(n, func(bi int) {
		for o := 0; o < c.filters; o++ {
			gp := g[(bi*c.filters+o)*h*w : (bi*c.filters+o+1)*h*w]
			for ci := 0; ci < cin; ci++ {
				dp := dst[(bi*cin+ci)*h*w : (bi*cin+ci+1)*h*w]
				wk := wq[(o*cin+ci)*k*k : (o*cin+ci+1)*k*k]
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						wv := wk[ky*k+kx]
						if wv == 0 {
							continue
						}
						dy, dx := ky-pad, kx-pad
						y0, y1 := max(0, -dy), min(h, h-dy)
						x0, x1 := max(0, -dx), min(w, w-dx)
						for y := y0; y < y1; y++ {
							grow := gp[y*w : (y+1)*w]
							drow := dp[(y+dy)*w : (y+dy+1)*w]
							for xx := x0; xx < x1; xx++ {
								drow[xx+dx] += wv * grow[xx]
							}
						}
					}
				}
			}
		}
	}, c.parallelCfg)

	return dIn
}

// String returns a string representation of the layer.
func (c *QConv2D) String() string {
	return fmt.Sprintf("QConv2D(name=%s, in_channels=%d, filters=%d, kernel_size=(%d, %d), padding=same, kernel_quantizer=%s)",
		c.name, c.inChannels, c.filters, c.kernelSize, c.kernelSize, c.quantizer)
}
