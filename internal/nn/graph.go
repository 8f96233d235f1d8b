package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// ErrInvalidGraph is wrapped by every Builder error.
var ErrInvalidGraph = errors.New("invalid layer graph")

// Builder assembles a Model layer by layer, inferring shapes as it goes.
//
// The first error sticks: later calls become no-ops and Build reports it.
//
//	b := nn.NewBuilder(tensor.Shape{28, 28, 1}, rng)
//	b.QConv2D("conv1", 32, 3, quant.Spec{Bits: 8, Integer: 4})
//	b.QActivation("act1", quant.Spec{Bits: 8, Integer: 4})
//	b.MaxPool2D("pool1", 2)
//	b.Flatten("flatten")
//	b.QDense("dense", 10, quant.Spec{Bits: 8, Integer: 4})
//	b.Activation("output", nn.Sigmoid)
//	model, err := b.Build()
type Builder struct {
	rng    *rand.Rand
	input  tensor.Shape
	layers []Layer
	shapes []tensor.Shape
	names  map[string]bool
	err    error
}

// NewBuilder starts a graph for per-example input shape [H, W, C].
func NewBuilder(inputShape tensor.Shape, rng *rand.Rand) *Builder {
	b := &Builder{rng: rng, names: make(map[string]bool)}
	if len(inputShape) != 3 {
		b.err = fmt.Errorf("%w: input shape must be [H, W, C], got %v", ErrInvalidGraph, inputShape)
		return b
	}
	if err := inputShape.Validate(); err != nil {
		b.err = fmt.Errorf("%w: input shape: %v", ErrInvalidGraph, err)
		return b
	}
	b.input = inputShape.Clone()
	b.add(NewInput("input", b.input), b.input)
	return b
}

// Err returns the first error recorded so far.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) current() tensor.Shape {
	return b.shapes[len(b.shapes)-1]
}

func (b *Builder) add(l Layer, in tensor.Shape) {
	if b.err != nil {
		return
	}
	if l.Name() == "" {
		b.err = fmt.Errorf("%w: %s layer has an empty name", ErrInvalidGraph, l.Kind())
		return
	}
	if b.names[l.Name()] {
		b.err = fmt.Errorf("%w: duplicate layer name %q", ErrInvalidGraph, l.Name())
		return
	}
	out, err := l.OutputShape(in)
	if err != nil {
		b.err = fmt.Errorf("%w: %v", ErrInvalidGraph, err)
		return
	}
	b.names[l.Name()] = true
	b.layers = append(b.layers, l)
	b.shapes = append(b.shapes, out)
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("%w: "+format, append([]any{ErrInvalidGraph}, args...)...)
	}
}

// QConv2D appends a "same"-padded convolution with quantized weights.
func (b *Builder) QConv2D(name string, filters, kernelSize int, spec quant.Spec) *Builder {
	if b.err != nil {
		return b
	}
	if filters <= 0 || kernelSize <= 0 {
		b.fail("%s: filters=%d and kernel_size=%d must be positive", name, filters, kernelSize)
		return b
	}
	q, err := quant.NewWeightQuantizer(spec)
	if err != nil {
		b.fail("%s: kernel quantizer: %w", name, err)
		return b
	}
	in := b.current()
	if len(in) != 3 {
		b.fail("%s: QConv2D needs a [C,H,W] input, got %v", name, in)
		return b
	}
	b.add(NewQConv2D(name, in[0], filters, kernelSize, q, b.rng), in)
	return b
}

// QActivation appends a quantized ReLU.
func (b *Builder) QActivation(name string, spec quant.Spec) *Builder {
	if b.err != nil {
		return b
	}
	q, err := quant.NewReLUQuantizer(spec)
	if err != nil {
		b.fail("%s: activation quantizer: %w", name, err)
		return b
	}
	b.add(NewQActivation(name, q), b.current())
	return b
}

// MaxPool2D appends max pooling with stride equal to the pool size.
func (b *Builder) MaxPool2D(name string, poolSize int) *Builder {
	if b.err != nil {
		return b
	}
	if poolSize <= 0 {
		b.fail("%s: pool size %d must be positive", name, poolSize)
		return b
	}
	b.add(NewMaxPool2D(name, poolSize), b.current())
	return b
}

// Flatten appends a flatten layer.
func (b *Builder) Flatten(name string) *Builder {
	if b.err != nil {
		return b
	}
	b.add(NewFlatten(name), b.current())
	return b
}

// QDense appends a dense layer with quantized weights.
func (b *Builder) QDense(name string, units int, spec quant.Spec) *Builder {
	if b.err != nil {
		return b
	}
	if units <= 0 {
		b.fail("%s: units=%d must be positive", name, units)
		return b
	}
	q, err := quant.NewWeightQuantizer(spec)
	if err != nil {
		b.fail("%s: kernel quantizer: %w", name, err)
		return b
	}
	in := b.current()
	if len(in) != 1 {
		b.fail("%s: QDense needs a flat input, got %v", name, in)
		return b
	}
	b.add(NewQDense(name, in[0], units, q, b.rng), in)
	return b
}

// Activation appends an unquantized activation.
func (b *Builder) Activation(name string, fn ActivationFunc) *Builder {
	if b.err != nil {
		return b
	}
	a, err := NewActivation(name, fn)
	if err != nil {
		b.fail("%s: %v", name, err)
		return b
	}
	b.add(a, b.current())
	return b
}

// Layer appends a caller-constructed layer.
func (b *Builder) Layer(l Layer) *Builder {
	if b.err != nil {
		return b
	}
	b.add(l, b.current())
	return b
}

// Build validates the graph and returns the model.
func (b *Builder) Build() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.layers) < 2 {
		return nil, fmt.Errorf("%w: graph has no layers after the input", ErrInvalidGraph)
	}
	if out := b.current(); len(out) != 1 {
		return nil, fmt.Errorf("%w: output must be flat [classes], got %v", ErrInvalidGraph, out)
	}
	m := &Model{
		input:  b.input,
		layers: append([]Layer(nil), b.layers...),
		shapes: append([]tensor.Shape(nil), b.shapes...),
	}
	// Later builder calls must not reach the model.
	b.err = errors.New("builder already used")
	return m, nil
}
