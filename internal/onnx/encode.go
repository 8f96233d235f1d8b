package onnx

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes a model as an ONNX protobuf message.
//
// Repeated scalar fields are written unpacked except where onnx.proto
// declares them packed (TensorProto float/int data).
func Marshal(m *ModelProto) ([]byte, error) {
	if m == nil {
		return nil, errors.New("onnx: nil model")
	}
	var b []byte
	b = appendInt(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendInt(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, marshalGraph(m.Graph))
	}
	for _, op := range m.OpsetImport {
		var sub []byte
		sub = appendString(sub, 1, op.Domain)
		sub = appendInt(sub, 2, op.Version)
		b = appendMessage(b, 8, sub)
	}
	for _, e := range m.MetadataProps {
		var sub []byte
		sub = appendString(sub, 1, e.Key)
		sub = appendString(sub, 2, e.Value)
		b = appendMessage(b, 14, sub)
	}
	return b, nil
}

func marshalGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, marshalNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, marshalTensor(&g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, marshalValueInfo(&g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, marshalValueInfo(&g.ValueInfo[i]))
	}
	return b
}

func marshalNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendRepeatedString(b, 1, in)
	}
	for _, out := range n.Outputs {
		b = appendRepeatedString(b, 2, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, marshalAttribute(&n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func marshalAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, marshalTensor(a.T))
		}
	}
	for _, f := range a.Floats {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, v := range a.Ints {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	for _, s := range a.Strings {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	b = appendString(b, 13, a.DocString)
	b = appendInt(b, 20, int64(a.Type))
	return b
}

func marshalTensor(t *TensorProto) []byte {
	var b []byte
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendInt(b, 2, int64(t.DataType))
	if len(t.FloatData) > 0 {
		packed := make([]byte, 0, 4*len(t.FloatData))
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b = appendMessage(b, 5, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 7, packed)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	b = appendString(b, 12, t.DocString)
	return b
}

func marshalValueInfo(v *ValueInfoProto) []byte {
	var b []byte
	b = appendString(b, 1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		tt := v.Type.TensorType
		var tensorType []byte
		tensorType = appendInt(tensorType, 1, int64(tt.ElemType))
		if tt.Shape != nil {
			var shape []byte
			for _, d := range tt.Shape.Dims {
				var dim []byte
				if d.DimParam != "" {
					dim = appendString(dim, 2, d.DimParam)
				} else {
					dim = protowire.AppendTag(dim, 1, protowire.VarintType)
					dim = protowire.AppendVarint(dim, uint64(d.DimValue))
				}
				shape = appendMessage(shape, 1, dim)
			}
			tensorType = appendMessage(tensorType, 2, shape)
		}
		var typ []byte
		typ = appendMessage(typ, 1, tensorType)
		b = appendMessage(b, 2, typ)
	}
	b = appendString(b, 3, v.DocString)
	return b
}

// appendInt writes a non-zero varint field.
func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// appendString writes a non-empty string field.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendRepeatedString(b, num, s)
}

// appendRepeatedString writes s even when empty; ONNX uses "" for omitted
// optional node inputs.
func appendRepeatedString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
