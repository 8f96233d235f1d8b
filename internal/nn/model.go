package nn

import (
	"fmt"
	"sort"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Model is a validated chain of layers. The topology is fixed once built;
// only parameter values change, and only through training or LoadStateDict.
type Model struct {
	input  tensor.Shape   // [H, W, C]
	layers []Layer        // layers[0] is the Input node
	shapes []tensor.Shape // per-example output shape of each layer
}

// InputShape returns the per-example input shape [H, W, C].
func (m *Model) InputShape() tensor.Shape {
	return m.input.Clone()
}

// OutputShape returns the per-example output shape.
func (m *Model) OutputShape() tensor.Shape {
	return m.shapes[len(m.shapes)-1].Clone()
}

// Layers returns the layers in execution order.
func (m *Model) Layers() []Layer {
	return append([]Layer(nil), m.layers...)
}

// LayerShape returns the per-example output shape of layer i.
func (m *Model) LayerShape(i int) tensor.Shape {
	return m.shapes[i].Clone()
}

// Layer returns the layer with the given name, or nil.
func (m *Model) Layer(name string) Layer {
	for _, l := range m.layers {
		if l.Name() == name {
			return l
		}
	}
	return nil
}

// Forward runs a batch [N, H, W, C] through the network and returns [N, classes].
func (m *Model) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := x
	for _, l := range m.layers {
		out = l.Forward(out)
	}
	return out
}

// Backward propagates dL/doutput back to the first trainable layer.
func (m *Model) Backward(grad *tensor.Tensor) {
	g := grad
	for i := len(m.layers) - 1; i > 0; i-- {
		g = m.layers[i].Backward(g)
	}
}

// Parameters returns all trainable parameters in layer order.
func (m *Model) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range m.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// ZeroGrad clears every parameter gradient.
func (m *Model) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// NumParameters counts scalar trainable parameters.
func (m *Model) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().Len()
	}
	return n
}

// StateDict returns parameter tensors keyed by name (e.g., "conv1.kernel").
// The tensors are the live parameters, not copies.
func (m *Model) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, p := range m.Parameters() {
		state[p.Name()] = p.Tensor()
	}
	return state
}

// LoadStateDict copies values into the model's parameters. Every parameter
// must be present with a matching shape.
func (m *Model) LoadStateDict(state map[string]*tensor.Tensor) error {
	params := m.Parameters()
	for _, p := range params {
		src, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name())
		}
		if !src.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("parameter %q: shape %v != expected %v", p.Name(), src.Shape(), p.Tensor().Shape())
		}
	}
	if len(state) != len(params) {
		known := make(map[string]bool, len(params))
		for _, p := range params {
			known[p.Name()] = true
		}
		var extra []string
		for name := range state {
			if !known[name] {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("unexpected parameters %v", extra)
	}
	for _, p := range params {
		p.Tensor().CopyFrom(state[p.Name()])
	}
	return nil
}

// Snapshot returns deep copies of all parameters.
func (m *Model) Snapshot() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, p := range m.Parameters() {
		state[p.Name()] = p.Tensor().Clone()
	}
	return state
}
