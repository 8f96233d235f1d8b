package onnx

import (
	internalonnx "github.com/jonGuti13/qonnx2mdc/internal/onnx"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Model represents a loaded QONNX model ready for inference.
//
// The interface hides the interpreter so callers can substitute a mock or
// a hardware-backed implementation with the same contract.
type Model interface {
	// Forward runs inference with a single input tensor.
	// For models with multiple inputs, use ForwardNamed.
	Forward(input Tensor) (Tensor, error)

	// ForwardNamed runs inference with named inputs.
	// Returns a map of output name to tensor.
	ForwardNamed(inputs map[string]Tensor) (map[string]Tensor, error)

	// InputNames returns the names of model inputs.
	InputNames() []string

	// OutputNames returns the names of model outputs.
	OutputNames() []string

	// OpsetVersion returns the standard ONNX opset version used by the model.
	OpsetVersion() int64

	// Metadata returns model metadata as key-value pairs, including
	// "producer_name", "producer_version" and the metadata_props entries
	// such as "run_id".
	Metadata() map[string]string
}

type runtime struct {
	m *internalonnx.Model
}

func (r *runtime) Forward(input Tensor) (Tensor, error) {
	in, err := toInternal(input)
	if err != nil {
		return Tensor{}, err
	}
	out, err := r.m.Forward(in)
	if err != nil {
		return Tensor{}, err
	}
	return fromInternal(out), nil
}

func (r *runtime) ForwardNamed(inputs map[string]Tensor) (map[string]Tensor, error) {
	in := make(map[string]*tensor.Tensor, len(inputs))
	for name, t := range inputs {
		it, err := toInternal(t)
		if err != nil {
			return nil, err
		}
		in[name] = it
	}
	outs, err := r.m.ForwardNamed(in)
	if err != nil {
		return nil, err
	}
	res := make(map[string]Tensor, len(outs))
	for name, t := range outs {
		res[name] = fromInternal(t)
	}
	return res, nil
}

func (r *runtime) InputNames() []string        { return r.m.InputNames() }
func (r *runtime) OutputNames() []string       { return r.m.OutputNames() }
func (r *runtime) OpsetVersion() int64         { return r.m.OpsetVersion() }
func (r *runtime) Metadata() map[string]string { return r.m.Metadata() }

// toInternal copies t so the caller keeps ownership of its slice.
func toInternal(t Tensor) (*tensor.Tensor, error) {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return tensor.FromSlice(data, t.Shape...)
}

func fromInternal(t *tensor.Tensor) Tensor {
	return Tensor{Shape: []int(t.Shape().Clone()), Data: t.Data()}
}
