package nn

import (
	"fmt"
	"math/rand"

	"github.com/jonGuti13/qonnx2mdc/internal/parallel"
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// QDense is a fully connected layer with quantized weights.
//
// Computes: output = input @ quantize(kernel) + bias
//
// Input shape:  [batch, in_features]
// Kernel shape: [in_features, units]
// Output shape: [batch, units]
type QDense struct {
	name       string
	inFeatures int
	units      int
	quantizer  quant.Quantizer
	kernel     *Parameter
	bias       *Parameter
	qKernel    *tensor.Tensor
	input      *tensor.Tensor
}

// NewQDense creates a dense layer with Glorot-uniform kernel and zero bias.
func NewQDense(name string, inFeatures, units int, q quant.Quantizer, rng *rand.Rand) *QDense {
	if inFeatures <= 0 || units <= 0 {
		panic(fmt.Sprintf("qdense: invalid dimensions in=%d, units=%d", inFeatures, units))
	}
	return &QDense{
		name:       name,
		inFeatures: inFeatures,
		units:      units,
		quantizer:  q,
		kernel:     NewParameter(name+".kernel", GlorotUniform(inFeatures, units, rng, inFeatures, units)),
		bias:       NewParameter(name+".bias", tensor.Zeros(units)),
		qKernel:    tensor.Zeros(inFeatures, units),
	}
}

func (d *QDense) Name() string               { return d.name }
func (d *QDense) Kind() Kind                 { return KindQDense }
func (d *QDense) Quantizer() quant.Quantizer { return d.quantizer }
func (d *QDense) Parameters() []*Parameter   { return []*Parameter{d.kernel, d.bias} }

// Kernel returns the float kernel parameter.
func (d *QDense) Kernel() *Parameter { return d.kernel }

// Bias returns the bias parameter.
func (d *QDense) Bias() *Parameter { return d.bias }

// Units returns the number of output features.
func (d *QDense) Units() int { return d.units }

// QuantizedKernel returns the kernel as the network sees it.
func (d *QDense) QuantizedKernel() *tensor.Tensor {
	q := tensor.Zeros(d.inFeatures, d.units)
	d.quantizer.Quantize(q.Data(), d.kernel.Tensor().Data())
	return q
}

func (d *QDense) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if len(in) != 1 || in[0] != d.inFeatures {
		return nil, fmt.Errorf("%s: expected [%d] input, got %v", d.name, d.inFeatures, in)
	}
	return tensor.Shape{d.units}, nil
}

func (d *QDense) Forward(x *tensor.Tensor) *tensor.Tensor {
	s := x.Shape()
	if len(s) != 2 || s[1] != d.inFeatures {
		panic(fmt.Sprintf("qdense: expected [N,%d] input, got %v", d.inFeatures, s))
	}
	d.input = x
	d.quantizer.Quantize(d.qKernel.Data(), d.kernel.Tensor().Data())

	n := s[0]
	out := tensor.Zeros(n, d.units)
	in, w, b, dst := x.Data(), d.qKernel.Data(), d.bias.Tensor().Data(), out.Data()

	parallel.For(n, func(r int) {
		row := dst[r*d.units : (r+1)*d.units]
		copy(row, b)
		xr := in[r*d.inFeatures : (r+1)*d.inFeatures]
		for i, xv := range xr {
			if xv == 0 {
				continue
			}
			wr := w[i*d.units : (i+1)*d.units]
			for j, wv := range wr {
				row[j] += xv * wv
			}
		}
	}, parallel.KernelConfig())

	return out
}

func (d *QDense) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if d.input == nil {
		panic("qdense: Backward called before Forward")
	}
	n := d.input.Shape()[0]
	in, g, w := d.input.Data(), grad.Data(), d.qKernel.Data()
	dW, dB := d.kernel.Grad().Data(), d.bias.Grad().Data()

	// dW = x^T @ g, one input feature row per work item.
	parallel.For(d.inFeatures, func(i int) {
		dwr := dW[i*d.units : (i+1)*d.units]
		for r := 0; r < n; r++ {
			xv := in[r*d.inFeatures+i]
			if xv == 0 {
				continue
			}
			gr := g[r*d.units : (r+1)*d.units]
			for j, gv := range gr {
				dwr[j] += xv * gv
			}
		}
	}, parallel.DefaultConfig())
	for r := 0; r < n; r++ {
		for j, gv := range g[r*d.units : (r+1)*d.units] {
			dB[j] += gv
		}
	}
	d.quantizer.Backward(dW, d.kernel.Tensor().Data())

	// dx = g @ W^T
	dIn := tensor.Zeros(n, d.inFeatures)
	dst := dIn.Data()
	parallel.For(n, func(r int) {
		gr := g[r*d.units : (r+1)*d.units]
		dr := dst[r*d.inFeatures : (r+1)*d.inFeatures]
		for i := range dr {
			wr := w[i*d.units : (i+1)*d.units]
			var acc float32
			for j, gv := range gr {
				acc += gv * wr[j]
			}
			dr[i] = acc
		}
	}, parallel.KernelConfig())

	return dIn
}

// String returns a string representation of the layer.
func (d *QDense) String() string {
	return fmt.Sprintf("QDense(name=%s, in_features=%d, units=%d, kernel_quantizer=%s)",
		d.name, d.inFeatures, d.units, d.quantizer)
}
