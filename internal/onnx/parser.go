package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: File path comes from caller.
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX ModelProto. Unknown fields are skipped; repeated
// numeric fields are accepted packed or unpacked.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := walk(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.IRVersion, err = f.int64()
		case 2:
			m.ProducerName, err = f.string()
		case 3:
			m.ProducerVersion, err = f.string()
		case 4:
			m.Domain, err = f.string()
		case 5:
			m.ModelVersion, err = f.int64()
		case 6:
			m.DocString, err = f.string()
		case 7:
			m.Graph = &GraphProto{}
			err = f.message(m.Graph.parse)
		case 8:
			var op OperatorSetID
			err = f.message(op.parse)
			m.OpsetImport = append(m.OpsetImport, op)
		case 14:
			var e StringStringEntry
			err = f.message(e.parse)
			m.MetadataProps = append(m.MetadataProps, e)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("onnx: parse model: %w", err)
	}
	return m, nil
}

func (g *GraphProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var n NodeProto
			err = f.message(n.parse)
			g.Nodes = append(g.Nodes, n)
		case 2:
			g.Name, err = f.string()
		case 5:
			var t TensorProto
			err = f.message(t.parse)
			g.Initializers = append(g.Initializers, t)
		case 10:
			g.DocString, err = f.string()
		case 11, 12, 13:
			var v ValueInfoProto
			err = f.message(v.parse)
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, v)
			case 12:
				g.Outputs = append(g.Outputs, v)
			default:
				g.ValueInfo = append(g.ValueInfo, v)
			}
		}
		if err != nil {
			return fmt.Errorf("graph field %d: %w", f.num, err)
		}
		return nil
	})
}

func (n *NodeProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		var (
			s   string
			err error
		)
		switch f.num {
		case 1:
			s, err = f.string()
			n.Inputs = append(n.Inputs, s)
		case 2:
			s, err = f.string()
			n.Outputs = append(n.Outputs, s)
		case 3:
			n.Name, err = f.string()
		case 4:
			n.OpType, err = f.string()
		case 5:
			var a AttributeProto
			err = f.message(a.parse)
			n.Attributes = append(n.Attributes, a)
		case 6:
			n.DocString, err = f.string()
		case 7:
			n.Domain, err = f.string()
		}
		return err
	})
}

func (a *AttributeProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name, err = f.string()
		case 2:
			var v []uint32
			if v, err = f.fixed32s(); err == nil && len(v) > 0 {
				a.F = math.Float32frombits(v[len(v)-1])
			}
		case 3:
			a.I, err = f.int64()
		case 4:
			a.S, err = f.bytes()
		case 5:
			a.T = &TensorProto{}
			err = f.message(a.T.parse)
		case 7:
			var v []uint32
			v, err = f.fixed32s()
			for _, bits := range v {
				a.Floats = append(a.Floats, math.Float32frombits(bits))
			}
		case 8:
			var v []uint64
			v, err = f.varints()
			for _, x := range v {
				a.Ints = append(a.Ints, int64(x)) //nolint:gosec // G115: two's complement int64 on the wire.
			}
		case 9:
			var s []byte
			s, err = f.bytes()
			a.Strings = append(a.Strings, s)
		case 13:
			a.DocString, err = f.string()
		case 20:
			var v int64
			v, err = f.int64()
			a.Type = int32(v) //nolint:gosec // G115: enum fits in int32.
		}
		return err
	})
}

func (t *TensorProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v []uint64
			v, err = f.varints()
			for _, x := range v {
				t.Dims = append(t.Dims, int64(x)) //nolint:gosec // G115: two's complement int64 on the wire.
			}
		case 2:
			var v int64
			v, err = f.int64()
			t.DataType = int32(v) //nolint:gosec // G115: enum fits in int32.
		case 4:
			var v []uint32
			v, err = f.fixed32s()
			for _, bits := range v {
				t.FloatData = append(t.FloatData, math.Float32frombits(bits))
			}
		case 5:
			var v []uint64
			v, err = f.varints()
			for _, x := range v {
				t.Int32Data = append(t.Int32Data, int32(x)) //nolint:gosec // G115: int32 sign-extended on the wire.
			}
		case 7:
			var v []uint64
			v, err = f.varints()
			for _, x := range v {
				t.Int64Data = append(t.Int64Data, int64(x)) //nolint:gosec // G115: two's complement int64 on the wire.
			}
		case 8:
			t.Name, err = f.string()
		case 9:
			t.RawData, err = f.bytes()
		case 12:
			t.DocString, err = f.string()
		}
		return err
	})
}

func (v *ValueInfoProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			v.Name, err = f.string()
		case 2:
			v.Type = &TypeProto{}
			err = f.message(v.Type.parse)
		case 3:
			v.DocString, err = f.string()
		}
		return err
	})
}

func (tp *TypeProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		tp.TensorType = &TensorTypeProto{}
		return f.message(tp.TensorType.parse)
	})
}

func (tt *TensorTypeProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v int64
			v, err = f.int64()
			tt.ElemType = int32(v) //nolint:gosec // G115: enum fits in int32.
		case 2:
			tt.Shape = &TensorShapeProto{}
			err = f.message(tt.Shape.parse)
		}
		return err
	})
}

func (s *TensorShapeProto) parse(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var d DimensionProto
		err := f.message(func(b []byte) error {
			return walk(b, func(f field) error {
				var err error
				switch f.num {
				case 1:
					d.DimValue, err = f.int64()
				case 2:
					d.DimParam, err = f.string()
				}
				return err
			})
		})
		s.Dims = append(s.Dims, d)
		return err
	})
}

func (op *OperatorSetID) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			op.Domain, err = f.string()
		case 2:
			op.Version, err = f.int64()
		}
		return err
	})
}

func (e *StringStringEntry) parse(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			e.Key, err = f.string()
		case 2:
			e.Value, err = f.string()
		}
		return err
	})
}

// field is one decoded protobuf field. Scalars land in u, length-delimited
// payloads in data.
type field struct {
	num  protowire.Number
	typ  protowire.Type
	u    uint64
	data []byte
}

// walk calls fn for every field of the message in b.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) wireError() error {
	return fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
}

func (f field) int64() (int64, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wireError()
	}
	return int64(f.u), nil //nolint:gosec // G115: two's complement int64 on the wire.
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wireError()
	}
	return append([]byte(nil), f.data...), nil
}

func (f field) string() (string, error) {
	if f.typ != protowire.BytesType {
		return "", f.wireError()
	}
	return string(f.data), nil
}

func (f field) message(parse func([]byte) error) error {
	if f.typ != protowire.BytesType {
		return f.wireError()
	}
	return parse(f.data)
}

func (f field) varints() ([]uint64, error) {
	switch f.typ {
	case protowire.VarintType:
		return []uint64{f.u}, nil
	case protowire.BytesType:
		var out []uint64
		for b := f.data; len(b) > 0; {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			out = append(out, v)
			b = b[n:]
		}
		return out, nil
	default:
		return nil, f.wireError()
	}
}

func (f field) fixed32s() ([]uint32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return []uint32{uint32(f.u)}, nil //nolint:gosec // G115: decoded from 4 bytes.
	case protowire.BytesType:
		if len(f.data)%4 != 0 {
			return nil, fmt.Errorf("field %d: packed fixed32 length %d", f.num, len(f.data))
		}
		out := make([]uint32, 0, len(f.data)/4)
		for b := f.data; len(b) > 0; {
			v, n := protowire.ConsumeFixed32(b)
			out = append(out, v)
			b = b[n:]
		}
		return out, nil
	default:
		return nil, f.wireError()
	}
}
