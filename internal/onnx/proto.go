package onnx

// In-memory form of the subset of onnx.proto used by exported graphs.
// Field numbers live in encode.go and parser.go.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (7 for opset 11)
	OpsetImport     []OperatorSetID     // Opset version(s), one per domain
	ProducerName    string              // Producing tool
	ProducerVersion string              // Producing tool version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes in topological order
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
	ValueInfo    []ValueInfoProto // Intermediate tensor info
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "Quant")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string           // Node description
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string    // Tensor name
	DataType  int32     // Element data type
	Dims      []int64   // Tensor shape
	RawData   []byte    // Little-endian element bytes
	FloatData []float32 // Float32 data (alternative to RawData)
	Int32Data []int32   // Int32 data
	Int64Data []int64   // Int64 data
	DocString string    // Tensor description
}

// ValueInfoProto describes input/output tensor specifications.
type ValueInfoProto struct {
	Name      string     // Tensor name
	Type      *TypeProto // Tensor type information
	DocString string     // Description
}

// TypeProto describes a value type. Only tensor types are modeled.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32             // Element data type
	Shape    *TensorShapeProto // Tensor shape
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is either a static size or a symbolic name.
type DimensionProto struct {
	DimValue int64  // Static dimension value (e.g., 28)
	DimParam string // Dynamic dimension name (e.g., "N")
}

// AttributeProto represents node attributes.
type AttributeProto struct {
	Name      string       // Attribute name
	Type      int32        // Attribute type
	F         float32      // FLOAT value
	I         int64        // INT value
	S         []byte       // STRING value
	T         *TensorProto // TENSOR value
	Floats    []float32    // FLOATS array
	Ints      []int64      // INTS array
	Strings   [][]byte     // STRINGS array
	DocString string       // Description
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1 // float32
	TensorProtoUint8     = 2 // uint8
	TensorProtoInt8      = 3 // int8
	TensorProtoInt32     = 6 // int32
	TensorProtoInt64     = 7 // int64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1 // FLOAT
	AttributeProtoInt       = 2 // INT
	AttributeProtoString    = 3 // STRING
	AttributeProtoTensor    = 4 // TENSOR
	AttributeProtoFloats    = 6 // FLOATS
	AttributeProtoInts      = 7 // INTS
	AttributeProtoStrings   = 8 // STRINGS
)

// Versions written by the exporter.
const (
	IRVersion    = 7
	OpsetVersion = 11
	QONNXVersion = 1
)

// FloatAttr returns a FLOAT attribute.
func FloatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// IntAttr returns an INT attribute.
func IntAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// IntsAttr returns an INTS attribute.
func IntsAttr(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// StringAttr returns a STRING attribute.
func StringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// Attr looks up a node attribute by name.
func (n *NodeProto) Attr(name string) (AttributeProto, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeProto{}, false
}

// Initializer looks up a graph initializer by name.
func (g *GraphProto) Initializer(name string) (*TensorProto, bool) {
	for i := range g.Initializers {
		if g.Initializers[i].Name == name {
			return &g.Initializers[i], true
		}
	}
	return nil, false
}

// CountOps returns the number of nodes per op type.
func (g *GraphProto) CountOps() map[string]int {
	counts := make(map[string]int)
	for i := range g.Nodes {
		counts[g.Nodes[i].OpType]++
	}
	return counts
}
