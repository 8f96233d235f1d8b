package operators

import (
	"fmt"
	"math"

	"github.com/jonGuti13/qonnx2mdc/internal/parallel"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// registerConvOps adds 2D convolution and pooling to the registry.
func (r *Registry) registerConvOps() {
	r.Register(DomainONNX, "Conv", handleConv)
	r.Register(DomainONNX, "MaxPool", handleMaxPool)
}

// window holds the 2D geometry attributes shared by Conv and MaxPool.
type window struct {
	kh, kw        int
	sh, sw        int
	top, left     int
	bottom, right int
	outH, outW    int
}

func parseWindow(op string, node *Node, h, w int, kernel []int) (window, error) {
	k := intsOr(node, "kernel_shape", kernel)
	if len(k) != 2 {
		return window{}, fmt.Errorf("%s: kernel_shape must have 2 dims, got %v", op, k)
	}
	s := intsOr(node, "strides", []int{1, 1})
	p := intsOr(node, "pads", []int{0, 0, 0, 0})
	if len(s) != 2 || len(p) != 4 {
		return window{}, fmt.Errorf("%s: bad strides %v or pads %v", op, s, p)
	}
	if d := intsOr(node, "dilations", []int{1, 1}); d[0] != 1 || d[1] != 1 {
		return window{}, fmt.Errorf("%s: dilations %v not supported", op, d)
	}
	if ap := GetAttrString(node, "auto_pad", "NOTSET"); ap != "NOTSET" {
		return window{}, fmt.Errorf("%s: auto_pad %q not supported", op, ap)
	}
	win := window{
		kh: k[0], kw: k[1], sh: s[0], sw: s[1],
		top: p[0], left: p[1], bottom: p[2], right: p[3],
	}
	if win.sh <= 0 || win.sw <= 0 {
		return window{}, fmt.Errorf("%s: strides must be positive, got %v", op, s)
	}
	win.outH = (h+win.top+win.bottom-win.kh)/win.sh + 1
	win.outW = (w+win.left+win.right-win.kw)/win.sw + 1
	if win.outH <= 0 || win.outW <= 0 {
		return window{}, fmt.Errorf("%s: kernel %v larger than padded input %dx%d", op, k, h, w)
	}
	return win, nil
}

// handleConv computes a 2D convolution over NCHW input with OIHW weights
// and an optional bias. Only group=1 is supported. Products accumulate in
// (channel, ky, kx) order starting from the bias.
func handleConv(ctx *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("conv", inputs, 2, 3); err != nil {
		return nil, err
	}
	x, wt := inputs[0], inputs[1]
	xs, ws := x.Shape(), wt.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv: expected 4D input and weight, got %v and %v", xs, ws)
	}
	if g := GetAttrInt(node, "group", 1); g != 1 {
		return nil, fmt.Errorf("conv: group %d not supported", g)
	}
	n, cin, h, w := xs[0], xs[1], xs[2], xs[3]
	cout := ws[0]
	if ws[1] != cin {
		return nil, fmt.Errorf("conv: weight expects %d channels, input has %d", ws[1], cin)
	}
	win, err := parseWindow("conv", node, h, w, []int{ws[2], ws[3]})
	if err != nil {
		return nil, err
	}
	if win.kh != ws[2] || win.kw != ws[3] {
		return nil, fmt.Errorf("conv: kernel_shape %dx%d does not match weight %v", win.kh, win.kw, ws)
	}
	var bias []float32
	if len(inputs) == 3 && inputs[2] != nil {
		if inputs[2].Len() != cout {
			return nil, fmt.Errorf("conv: bias has %d elements, want %d", inputs[2].Len(), cout)
		}
		bias = inputs[2].Data()
	}

	out := tensor.Zeros(n, cout, win.outH, win.outW)
	src, wd, dst := x.Data(), wt.Data(), out.Data()
	plane := win.outH * win.outW
	parallel.ForBatch(n, cout, func(b, o int) {
		res := dst[(b*cout+o)*plane : (b*cout+o+1)*plane]
		if bias != nil {
			for i := range res {
				res[i] = bias[o]
			}
		}
		for c := 0; c < cin; c++ {
			in := src[(b*cin+c)*h*w : (b*cin+c+1)*h*w]
			k := wd[(o*cin+c)*win.kh*win.kw : (o*cin+c+1)*win.kh*win.kw]
			for ky := 0; ky < win.kh; ky++ {
				for kx := 0; kx < win.kw; kx++ {
					wv := k[ky*win.kw+kx]
					for oy := 0; oy < win.outH; oy++ {
						iy := oy*win.sh + ky - win.top
						if iy < 0 || iy >= h {
							continue
						}
						row := res[oy*win.outW : (oy+1)*win.outW]
						for ox := range row {
							ix := ox*win.sw + kx - win.left
							if ix >= 0 && ix < w {
								row[ox] += wv * in[iy*w+ix]
							}
						}
					}
				}
			}
		}
	}, ctx.Parallel)
	return one(out), nil
}

// handleMaxPool pools NCHW input; padded cells never win.
func handleMaxPool(_ *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("maxPool", inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("maxPool: expected 4D input, got %v", xs)
	}
	if len(GetAttrInts(node, "kernel_shape")) == 0 {
		return nil, fmt.Errorf("maxPool: kernel_shape attribute is required")
	}
	if GetAttrInt(node, "ceil_mode", 0) != 0 {
		return nil, fmt.Errorf("maxPool: ceil_mode not supported")
	}
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	win, err := parseWindow("maxPool", node, h, w, nil)
	if err != nil {
		return nil, err
	}

	out := tensor.Zeros(n, c, win.outH, win.outW)
	src, dst := x.Data(), out.Data()
	for p := 0; p < n*c; p++ {
		in := src[p*h*w : (p+1)*h*w]
		res := dst[p*win.outH*win.outW : (p+1)*win.outH*win.outW]
		for oy := 0; oy < win.outH; oy++ {
			for ox := 0; ox < win.outW; ox++ {
				best := float32(math.Inf(-1))
				for ky := 0; ky < win.kh; ky++ {
					iy := oy*win.sh + ky - win.top
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < win.kw; kx++ {
						ix := ox*win.sw + kx - win.left
						if ix >= 0 && ix < w && in[iy*w+ix] > best {
							best = in[iy*w+ix]
						}
					}
				}
				res[oy*win.outW+ox] = best
			}
		}
	}
	return one(out), nil
}
