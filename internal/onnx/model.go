package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/jonGuti13/qonnx2mdc/internal/onnx/operators"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Model is a loaded ONNX graph ready for CPU execution. It is the
// reference interpreter for exported QONNX files.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	ctx          *operators.Context
	tensors      map[string]*tensor.Tensor // initializers
	inputNames   []string
	outputNames  []string
	sortedNodes  []NodeProto
	opsetVersion int64
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	return meta
}

// Forward runs inference with a single input tensor.
// For models with multiple inputs, use ForwardNamed.
func (m *Model) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(m.inputNames) != 1 {
		return nil, fmt.Errorf("model has %d inputs, use ForwardNamed", len(m.inputNames))
	}
	if len(m.outputNames) != 1 {
		return nil, fmt.Errorf("model has %d outputs, use ForwardNamed", len(m.outputNames))
	}

	outputs, err := m.ForwardNamed(map[string]*tensor.Tensor{
		m.inputNames[0]: input,
	})
	if err != nil {
		return nil, err
	}
	return outputs[m.outputNames[0]], nil
}

// ForwardNamed runs inference with named inputs and returns the graph
// outputs by name.
func (m *Model) ForwardNamed(inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	tensors := make(map[string]*tensor.Tensor, len(m.tensors)+len(inputs))
	for name, t := range m.tensors {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}

	for _, inputName := range m.inputNames {
		if _, ok := tensors[inputName]; !ok {
			return nil, fmt.Errorf("missing input: %s", inputName)
		}
	}

	for i := range m.sortedNodes {
		node := &m.sortedNodes[i]
		nodeInputs := make([]*tensor.Tensor, len(node.Inputs))
		for j, inputName := range node.Inputs {
			if inputName == "" {
				continue // optional input not provided
			}
			t, ok := tensors[inputName]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, inputName)
			}
			nodeInputs[j] = t
		}

		outputs, err := m.registry.Execute(m.ctx, nodeProtoToOperatorNode(node), nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for j, outputName := range node.Outputs {
			if j < len(outputs) {
				tensors[outputName] = outputs[j]
			}
		}
	}

	result := make(map[string]*tensor.Tensor, len(m.outputNames))
	for _, outputName := range m.outputNames {
		t, ok := tensors[outputName]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", outputName)
		}
		result[outputName] = t
	}
	return result, nil
}

// compile prepares the model for inference.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return errors.New("model has no graph")
	}

	m.tensors = make(map[string]*tensor.Tensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.tensors[init.Name] = t
	}

	m.inputNames = graphInputs(graph)
	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	sorted, err := topologicalSort(graph.Nodes)
	if err != nil {
		return err
	}
	m.sortedNodes = sorted

	for _, opset := range m.proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			m.opsetVersion = opset.Version
			break
		}
	}
	return nil
}

// tensorFromProto converts a TensorProto to a float32 tensor. Integer
// tensors (e.g. Reshape targets) are widened to float32.
func tensorFromProto(proto *TensorProto) (*tensor.Tensor, error) {
	shape := make([]int, len(proto.Dims))
	n := 1
	for i, d := range proto.Dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		shape[i] = int(d)
		n *= int(d)
	}

	data := make([]float32, n)
	switch proto.DataType {
	case TensorProtoFloat:
		switch {
		case len(proto.RawData) > 0:
			if len(proto.RawData) != 4*n {
				return nil, fmt.Errorf("raw data has %d bytes, want %d", len(proto.RawData), 4*n)
			}
			for i := range data {
				data[i] = math.Float32frombits(binary.LittleEndian.Uint32(proto.RawData[4*i:]))
			}
		case len(proto.FloatData) == n:
			copy(data, proto.FloatData)
		default:
			return nil, fmt.Errorf("float data has %d values, want %d", len(proto.FloatData), n)
		}
	case TensorProtoInt64:
		switch {
		case len(proto.RawData) == 8*n:
			for i := range data {
				data[i] = float32(int64(binary.LittleEndian.Uint64(proto.RawData[8*i:]))) //nolint:gosec // G115: two's complement.
			}
		case len(proto.Int64Data) == n:
			for i, v := range proto.Int64Data {
				data[i] = float32(v)
			}
		default:
			return nil, fmt.Errorf("int64 data does not match %d elements", n)
		}
	case TensorProtoInt32:
		if len(proto.Int32Data) != n {
			return nil, fmt.Errorf("int32 data has %d values, want %d", len(proto.Int32Data), n)
		}
		for i, v := range proto.Int32Data {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported data type %d", proto.DataType)
	}
	return tensor.FromSlice(data, shape...)
}

// nodeProtoToOperatorNode converts NodeProto to operators.Node.
func nodeProtoToOperatorNode(proto *NodeProto) *operators.Node {
	node := &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Domain:     proto.Domain,
		Attributes: make([]operators.Attribute, len(proto.Attributes)),
	}
	for i := range proto.Attributes {
		a := &proto.Attributes[i]
		node.Attributes[i] = operators.Attribute{
			Name:   a.Name,
			Type:   a.Type,
			F:      a.F,
			I:      a.I,
			S:      a.S,
			Floats: a.Floats,
			Ints:   a.Ints,
		}
	}
	return node
}

// topologicalSort orders nodes so every node follows its producers.
func topologicalSort(nodes []NodeProto) ([]NodeProto, error) {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %q", nodes[i].Name)
		}
		state[i] = visiting
		for _, input := range nodes[i].Inputs {
			if dep, ok := outputToNode[input]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[i] = done
		result = append(result, nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}
