package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/onnx/operators"
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/serialization"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// BatchDim is the symbolic batch dimension of exported inputs and outputs.
const BatchDim = "N"

// ExportOptions configures Convert and Export.
type ExportOptions struct {
	GraphName       string
	ProducerVersion string
	DocString       string
	Metadata        map[string]string
}

// DefaultExportOptions returns the options used when none are given.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{GraphName: "qcnn"}
}

// Convert lowers a model to a QONNX graph.
//
// Every quantized layer contributes exactly one quantization node: weight
// quantizers become Quant (or BipolarQuant for one-bit weights) on the
// float initializer, activation quantizers become Relu followed by an
// unsigned Quant. Biases stay float. The graph input is channels-last and
// is transposed to NCHW before the first convolution.
func Convert(m *nn.Model, opts ...ExportOptions) (*ModelProto, error) {
	opt := DefaultExportOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	if m == nil {
		return nil, fmt.Errorf("onnx: nil model")
	}

	c := &converter{
		graph:    &GraphProto{Name: opt.GraphName, DocString: opt.DocString},
		registry: operators.NewRegistry(),
	}
	layers := m.Layers()
	for i, l := range layers {
		c.layer = l
		if err := c.convert(l, i == 0); err != nil {
			return nil, err
		}
		if i > 0 && i < len(layers)-1 {
			c.graph.ValueInfo = append(c.graph.ValueInfo, floatValueInfo(c.cur, m.LayerShape(i)))
		}
	}
	c.graph.Outputs = []ValueInfoProto{floatValueInfo(c.cur, m.OutputShape())}

	model := &ModelProto{
		IRVersion:       IRVersion,
		ProducerName:    serialization.Producer,
		ProducerVersion: opt.ProducerVersion,
		DocString:       opt.DocString,
		Graph:           c.graph,
		OpsetImport: []OperatorSetID{
			{Domain: operators.DomainONNX, Version: OpsetVersion},
			{Domain: operators.DomainQONNX, Version: QONNXVersion},
		},
	}
	keys := make([]string, 0, len(opt.Metadata))
	for k := range opt.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		model.MetadataProps = append(model.MetadataProps, StringStringEntry{Key: k, Value: opt.Metadata[k]})
	}
	return model, nil
}

// Export converts m and writes the encoded graph to path. The file is
// replaced atomically; on error nothing is written.
func Export(m *nn.Model, path string, opts ...ExportOptions) error {
	model, err := Convert(m, opts...)
	if err != nil {
		return err
	}
	data, err := Marshal(model)
	if err != nil {
		return err
	}
	if err := serialization.AtomicWriteFile(path, data); err != nil {
		return fmt.Errorf("onnx: write %s: %w", path, err)
	}
	return nil
}

type converter struct {
	graph    *GraphProto
	registry *operators.Registry
	layer    nn.Layer
	cur      string // tensor produced by the previous layer
}

func (c *converter) fail(format string, args ...any) error {
	return &ConversionError{
		Layer: c.layer.Name(),
		Kind:  string(c.layer.Kind()),
		Err:   fmt.Errorf("%w: "+format, append([]any{ErrUnsupported}, args...)...),
	}
}

func (c *converter) convert(l nn.Layer, first bool) error {
	name := l.Name()
	if in, ok := l.(*nn.Input); ok {
		if !first {
			return c.fail("input layer must come first")
		}
		s := in.Shape()
		c.graph.Inputs = append(c.graph.Inputs, floatValueInfo(name, s))
		c.cur = name
		return c.node("Transpose", operators.DomainONNX, name+"_nchw",
			[]string{name}, IntsAttr("perm", 0, 3, 1, 2))
	}
	if first {
		return c.fail("graph must start with an input layer")
	}

	switch l := l.(type) {
	case *nn.QConv2D:
		w, err := c.quantizeWeights(name, l.Kernel().Tensor(), l.Quantizer())
		if err != nil {
			return err
		}
		b := c.initializer(name+"_B", l.Bias().Tensor())
		k := int64(l.KernelSize())
		p := l.Pads()
		return c.node("Conv", operators.DomainONNX, name, []string{c.cur, w, b},
			IntsAttr("kernel_shape", k, k),
			IntsAttr("pads", int64(p[0]), int64(p[1]), int64(p[2]), int64(p[3])),
			IntsAttr("strides", 1, 1),
			IntsAttr("dilations", 1, 1),
			IntAttr("group", 1))

	case *nn.QActivation:
		q, ok := l.Quantizer().(*quant.ReLU)
		if !ok {
			return c.fail("activation quantizer %s", l.Quantizer())
		}
		if err := c.node("Relu", operators.DomainONNX, name+"_relu", []string{c.cur}); err != nil {
			return err
		}
		return c.quant(name, name, q.Scale(), q.Spec().Bits, false)

	case *nn.MaxPool2D:
		p := int64(l.PoolSize())
		return c.node("MaxPool", operators.DomainONNX, name, []string{c.cur},
			IntsAttr("kernel_shape", p, p),
			IntsAttr("strides", p, p),
			IntsAttr("pads", 0, 0, 0, 0))

	case *nn.Flatten:
		return c.node("Flatten", operators.DomainONNX, name, []string{c.cur}, IntAttr("axis", 1))

	case *nn.QDense:
		w, err := c.quantizeWeights(name, l.Kernel().Tensor(), l.Quantizer())
		if err != nil {
			return err
		}
		b := c.initializer(name+"_B", l.Bias().Tensor())
		if err := c.node("MatMul", operators.DomainONNX, name+"_matmul", []string{c.cur, w}); err != nil {
			return err
		}
		return c.node("Add", operators.DomainONNX, name, []string{c.cur, b})

	case *nn.Activation:
		op := map[nn.ActivationFunc]string{nn.Sigmoid: "Sigmoid", nn.ReLU: "Relu", nn.Linear: "Identity"}[l.Func()]
		if op == "" {
			return c.fail("activation %q", l.Func())
		}
		return c.node(op, operators.DomainONNX, name, []string{c.cur})

	default:
		return c.fail("layer kind %s", l.Kind())
	}
}

// node appends an operator whose output becomes the current tensor.
func (c *converter) node(op, domain, out string, inputs []string, attrs ...AttributeProto) error {
	if !c.registry.Supports(domain, op) {
		return c.fail("operator %s", operators.OpID{Domain: domain, OpType: op})
	}
	c.graph.Nodes = append(c.graph.Nodes, NodeProto{
		Name:       out,
		OpType:     op,
		Domain:     domain,
		Inputs:     inputs,
		Outputs:    []string{out},
		Attributes: attrs,
	})
	c.cur = out
	return nil
}

// quantizeWeights stores w as a float initializer followed by its quantizer
// node and returns the quantized tensor's name. c.cur is left untouched.
func (c *converter) quantizeWeights(layer string, w *tensor.Tensor, q quant.Quantizer) (string, error) {
	prev := c.cur
	defer func() { c.cur = prev }()

	raw := c.initializer(layer+"_W", w)
	out := layer + "_W_quant"
	switch q := q.(type) {
	case *quant.Bits:
		c.cur = raw
		if err := c.quant(raw, out, q.Scale(), q.Spec().Bits, true); err != nil {
			return "", err
		}
	case *quant.Bipolar:
		scale := c.scalar(raw+"_scale", q.Scale())
		if err := c.node(operators.OpBipolarQuant, operators.DomainQONNX, out, []string{raw, scale}); err != nil {
			return "", err
		}
	default:
		return "", c.fail("weight quantizer %s", q)
	}
	return out, nil
}

// quant appends Quant(c.cur, scale, 0, bits) producing out.
func (c *converter) quant(prefix, out string, scale float32, bits int, signed bool) error {
	s := c.scalar(prefix+"_scale", scale)
	z := c.scalar(prefix+"_zeropt", 0)
	bw := c.scalar(prefix+"_bitwidth", float32(bits))
	var sgn int64
	if signed {
		sgn = 1
	}
	return c.node(operators.OpQuant, operators.DomainQONNX, out, []string{c.cur, s, z, bw},
		IntAttr("signed", sgn),
		IntAttr("narrow", 0),
		StringAttr("rounding_mode", "ROUND"))
}

func (c *converter) initializer(name string, t *tensor.Tensor) string {
	c.graph.Initializers = append(c.graph.Initializers, TensorFromFloat32(name, t))
	return name
}

func (c *converter) scalar(name string, v float32) string {
	t, _ := tensor.FromSlice([]float32{v})
	return c.initializer(name, t)
}

// TensorFromFloat32 encodes t as a FLOAT TensorProto with raw little-endian data.
func TensorFromFloat32(name string, t *tensor.Tensor) TensorProto {
	data := t.Data()
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	var dims []int64 // nil for scalars, as the decoder produces
	for _, d := range t.Shape() {
		dims = append(dims, int64(d))
	}
	return TensorProto{Name: name, DataType: TensorProtoFloat, Dims: dims, RawData: raw}
}

// floatValueInfo declares a FLOAT tensor [N, shape...].
func floatValueInfo(name string, shape tensor.Shape) ValueInfoProto {
	dims := []DimensionProto{{DimParam: BatchDim}}
	for _, d := range shape {
		dims = append(dims, DimensionProto{DimValue: int64(d)})
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	}
}
