package onnx

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jonGuti13/qonnx2mdc/internal/onnx/operators"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// StrictMode rejects graphs with unsupported operators at load time
	// instead of failing when the node is reached.
	StrictMode bool

	// CustomOps adds or overrides operator handlers.
	CustomOps map[operators.OpID]operators.OpHandler
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{StrictMode: true}
}

// Load parses an ONNX file and prepares it for execution.
//
//	model, err := onnx.Load("qonnx_model.onnx")
//	if err != nil {
//	    return err
//	}
//	probs, err := model.Forward(images)
func Load(path string, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}
	return LoadFromProto(proto, opt)
}

// LoadFromBytes loads a model from encoded bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}
	return LoadFromProto(proto, opt)
}

// LoadFromProto prepares a parsed model for execution.
func LoadFromProto(proto *ModelProto, opt LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()
	for id, handler := range opt.CustomOps {
		registry.Register(id.Domain, id.OpType, handler)
	}

	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	model := &Model{
		proto:    proto,
		registry: registry,
		ctx:      operators.DefaultContext(),
	}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	return model, nil
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return errors.New("model has no graph")
	}

	var unsupported []string
	for i := range graph.Nodes {
		n := &graph.Nodes[i]
		if !registry.Supports(n.Domain, n.OpType) {
			unsupported = append(unsupported, operators.OpID{Domain: n.Domain, OpType: n.OpType}.String())
		}
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("%w: unsupported operators: %s", ErrUnsupported, strings.Join(unsupported, ", "))
	}
	return nil
}

// ModelInfo contains basic information about an ONNX model without fully loading it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	QONNXVersion    int64 // 0 when the QONNX domain is not imported
	ProducerName    string
	ProducerVersion string
	GraphName       string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	OpCounts        map[string]int
	Metadata        map[string]string
}

// QuantNodes returns the number of QONNX quantization nodes.
func (mi *ModelInfo) QuantNodes() int {
	return mi.OpCounts[operators.OpQuant] + mi.OpCounts[operators.OpBipolarQuant]
}

// String renders the info as a short report.
func (mi *ModelInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %q produced by %s %s\n", mi.GraphName, mi.ProducerName, mi.ProducerVersion)
	fmt.Fprintf(&sb, "ir_version %d, opset %d, qonnx %d\n", mi.IRVersion, mi.OpsetVersion, mi.QONNXVersion)
	fmt.Fprintf(&sb, "inputs %v, outputs %v\n", mi.InputNames, mi.OutputNames)
	fmt.Fprintf(&sb, "%d nodes, %d initializers, %d quantizers\n", mi.NodeCount, mi.WeightCount, mi.QuantNodes())
	ops := make([]string, 0, len(mi.OpCounts))
	for op := range mi.OpCounts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(&sb, "  %-14s %d\n", op, mi.OpCounts[op])
	}
	return sb.String()
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Info(proto), nil
}

// Info summarizes a parsed model.
func Info(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		OpCounts:        map[string]int{},
		Metadata:        map[string]string{},
	}

	for _, opset := range proto.OpsetImport {
		switch opset.Domain {
		case "", "ai.onnx":
			info.OpsetVersion = opset.Version
		case operators.DomainQONNX:
			info.QONNXVersion = opset.Version
		}
	}
	for _, e := range proto.MetadataProps {
		info.Metadata[e.Key] = e.Value
	}

	if g := proto.Graph; g != nil {
		info.GraphName = g.Name
		info.InputNames = graphInputs(g)
		for _, output := range g.Outputs {
			info.OutputNames = append(info.OutputNames, output.Name)
		}
		info.NodeCount = len(g.Nodes)
		info.WeightCount = len(g.Initializers)
		info.OpCounts = g.CountOps()
	}
	return info
}

// graphInputs returns graph inputs that are not initializers.
func graphInputs(g *GraphProto) []string {
	initNames := make(map[string]bool, len(g.Initializers))
	for i := range g.Initializers {
		initNames[g.Initializers[i].Name] = true
	}
	var names []string
	for i := range g.Inputs {
		if !initNames[g.Inputs[i].Name] {
			names = append(names, g.Inputs[i].Name)
		}
	}
	return names
}

// ListSupportedOps returns all operators the runtime can execute.
func ListSupportedOps() []operators.OpID {
	return operators.NewRegistry().SupportedOps()
}
