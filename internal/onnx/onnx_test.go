package onnx

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jonGuti13/qonnx2mdc/internal/model"
	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/onnx/operators"
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

func buildModel(t *testing.T, cfg model.Config) *nn.Model {
	t.Helper()
	m, err := model.Build(cfg)
	require.NoError(t, err)
	return m
}

// liveConfig keeps every layer's quantized weights away from all-zero so
// exported outputs depend on every stage.
func liveConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Conv1 = quant.Spec{Bits: 8, Integer: 2}
	cfg.Conv2 = quant.Spec{Bits: 8, Integer: 2}
	cfg.Dense = quant.Spec{Bits: 8, Integer: 1}
	return cfg
}

func randomImages(seed int64, n int) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.Zeros(n, 28, 28, 1)
	for i := range x.Data() {
		x.Data()[i] = float32(rng.Intn(256)) / 255
	}
	return x
}

func opTypes(g *GraphProto) []string {
	ops := make([]string, len(g.Nodes))
	for i := range g.Nodes {
		ops[i] = g.Nodes[i].OpType
	}
	return ops
}

func TestConvertDefaultModel(t *testing.T) {
	proto, err := Convert(buildModel(t, model.DefaultConfig()))
	require.NoError(t, err)

	g := proto.Graph
	assert.Equal(t, 5, g.CountOps()[operators.OpQuant])
	assert.Zero(t, g.CountOps()[operators.OpBipolarQuant])
	assert.Equal(t, []string{
		"Transpose",
		"Quant", "Conv", "Relu", "Quant", "MaxPool",
		"Quant", "Conv", "Relu", "Quant", "MaxPool",
		"Flatten", "Quant", "MatMul", "Add", "Sigmoid",
	}, opTypes(g))

	assert.Equal(t, int64(IRVersion), proto.IRVersion)
	assert.Equal(t, []OperatorSetID{
		{Domain: "", Version: 11},
		{Domain: "qonnx.custom_op.general", Version: 1},
	}, proto.OpsetImport)

	require.Len(t, g.Inputs, 1)
	in := g.Inputs[0].Type.TensorType.Shape.Dims
	assert.Equal(t, []DimensionProto{{DimParam: "N"}, {DimValue: 28}, {DimValue: 28}, {DimValue: 1}}, in)
	require.Len(t, g.Outputs, 1)
	assert.Equal(t, model.LayerOutput, g.Outputs[0].Name)
	assert.Equal(t, []DimensionProto{{DimParam: "N"}, {DimValue: 10}}, g.Outputs[0].Type.TensorType.Shape.Dims)
}

func TestConvertQuantAttributes(t *testing.T) {
	proto, err := Convert(buildModel(t, model.DefaultConfig()))
	require.NoError(t, err)
	g := proto.Graph

	var weight, act *NodeProto
	for i := range g.Nodes {
		n := &g.Nodes[i]
		switch n.Name {
		case "conv1_W_quant":
			weight = n
		case model.LayerAct1:
			act = n
		}
	}
	require.NotNil(t, weight)
	require.NotNil(t, act)

	assert.Equal(t, operators.DomainQONNX, weight.Domain)
	assert.Equal(t, []string{"conv1_W", "conv1_W_scale", "conv1_W_zeropt", "conv1_W_bitwidth"}, weight.Inputs)
	signed, ok := weight.Attr("signed")
	require.True(t, ok)
	assert.Equal(t, int64(1), signed.I)
	mode, _ := weight.Attr("rounding_mode")
	assert.Equal(t, "ROUND", string(mode.S))

	scale, ok := g.Initializer("conv1_W_scale")
	require.True(t, ok)
	st, err := tensorFromProto(scale)
	require.NoError(t, err)
	assert.Equal(t, float32(0.125), st.Data()[0]) // 2^(4-8+1)

	signed, _ = act.Attr("signed")
	assert.Equal(t, int64(0), signed.I)
	ascale, _ := g.Initializer("act1_scale")
	at, err := tensorFromProto(ascale)
	require.NoError(t, err)
	assert.Equal(t, float32(0.0625), at.Data()[0]) // 2^(4-8)

	// Biases stay float and unquantized.
	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			if in == "conv1_B" {
				assert.Equal(t, "Conv", g.Nodes[i].OpType)
			}
		}
	}
}

func TestConvertBipolarWeights(t *testing.T) {
	cfg := liveConfig()
	cfg.Conv2 = quant.Spec{Bits: 1, Integer: 0}
	proto, err := Convert(buildModel(t, cfg))
	require.NoError(t, err)

	counts := proto.Graph.CountOps()
	assert.Equal(t, 4, counts[operators.OpQuant])
	assert.Equal(t, 1, counts[operators.OpBipolarQuant])
}

func TestMarshalParseRoundTrip(t *testing.T) {
	want, err := Convert(buildModel(t, model.DefaultConfig()), ExportOptions{
		GraphName:       "mnist",
		ProducerVersion: "test",
		Metadata:        map[string]string{"test_accuracy": "0.98", "run_id": "abc"},
	})
	require.NoError(t, err)

	data, err := Marshal(want)
	require.NoError(t, err)
	got, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, "run_id", got.MetadataProps[0].Key)
}

func TestParseAcceptsPackedAndUnpacked(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "perm")
	var packed []byte
	for _, v := range []uint64{0, 3, 1, 2} {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, 9)
	b = protowire.AppendTag(b, 99, protowire.VarintType) // unknown, skipped
	b = protowire.AppendVarint(b, 1)

	var a AttributeProto
	require.NoError(t, a.parse(b))
	assert.Equal(t, "perm", a.Name)
	assert.Equal(t, []int64{0, 3, 1, 2, 9}, a.Ints)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte{0x08, 0xff})
	assert.Error(t, err)

	// ir_version sent as a string.
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "7")
	_, err = Parse(b)
	assert.ErrorContains(t, err, "wire type")

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}

func TestRuntimeMatchesModel(t *testing.T) {
	for name, cfg := range map[string]model.Config{
		"bits": liveConfig(),
		"bipolar": func() model.Config {
			c := liveConfig()
			c.Conv1 = quant.Spec{Bits: 1, Integer: 0}
			return c
		}(),
	} {
		t.Run(name, func(t *testing.T) {
			m := buildModel(t, cfg)
			path := filepath.Join(t.TempDir(), "qonnx_model.onnx")
			require.NoError(t, Export(m, path))

			rt, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, []string{model.LayerInput}, rt.InputNames())
			assert.Equal(t, int64(11), rt.OpsetVersion())

			x := randomImages(3, 2)
			got, err := rt.Forward(x)
			require.NoError(t, err)
			want := m.Forward(x)

			require.Equal(t, want.Shape(), got.Shape())
			assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-5)
		})
	}
}

func TestGetModelInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qonnx_model.onnx")
	require.NoError(t, Export(buildModel(t, model.DefaultConfig()), path, ExportOptions{
		GraphName: "mnist",
		Metadata:  map[string]string{"epochs": "2"},
	}))

	info, err := GetModelInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 5, info.QuantNodes())
	assert.Equal(t, int64(11), info.OpsetVersion)
	assert.Equal(t, int64(1), info.QONNXVersion)
	assert.Equal(t, "mnist", info.GraphName)
	assert.Equal(t, "2", info.Metadata["epochs"])
	assert.Equal(t, 16, info.NodeCount)
	assert.Contains(t, info.String(), "5 quantizers")
}

// doubler is a layer the exporter has no mapping for.
type doubler struct{}

func (doubler) Name() string                                      { return "double" }
func (doubler) Kind() nn.Kind                                     { return "Double" }
func (doubler) OutputShape(in tensor.Shape) (tensor.Shape, error) { return in.Clone(), nil }
func (doubler) Parameters() []*nn.Parameter                       { return nil }
func (doubler) Backward(g *tensor.Tensor) *tensor.Tensor          { return g }
func (doubler) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	for i := range out.Data() {
		out.Data()[i] *= 2
	}
	return out
}

func TestConvertUnknownLayer(t *testing.T) {
	m, err := nn.NewBuilder(tensor.Shape{4, 4, 1}, rand.New(rand.NewSource(1))).
		Flatten("flatten").
		Layer(doubler{}).
		Build()
	require.NoError(t, err)

	_, err = Convert(m)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "double", convErr.Layer)
	assert.Equal(t, "Double", convErr.Kind)
	assert.True(t, errors.Is(err, ErrUnsupported))

	path := filepath.Join(t.TempDir(), "qonnx_model.onnx")
	require.Error(t, Export(m, path))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed export must not leave a file")
}

func TestExportUnwritableDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "qonnx_model.onnx")
	assert.Error(t, Export(buildModel(t, model.DefaultConfig()), path))
}

func TestLoadRejectsUnsupportedOps(t *testing.T) {
	proto := &ModelProto{Graph: &GraphProto{
		Nodes:   []NodeProto{{Name: "sm", OpType: "Softmax", Inputs: []string{"x"}, Outputs: []string{"y"}}},
		Inputs:  []ValueInfoProto{{Name: "x"}},
		Outputs: []ValueInfoProto{{Name: "y"}},
	}}
	_, err := LoadFromProto(proto, DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrUnsupported)

	custom := LoadOptions{StrictMode: true, CustomOps: map[operators.OpID]operators.OpHandler{
		{OpType: "Softmax"}: func(_ *operators.Context, _ *operators.Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return in, nil
		},
	}}
	rt, err := LoadFromProto(proto, custom)
	require.NoError(t, err)
	x, err := tensor.FromSlice([]float32{1, 2}, 2)
	require.NoError(t, err)
	y, err := rt.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, x.Data(), y.Data())
}

func TestTopologicalSort(t *testing.T) {
	nodes := []NodeProto{
		{Name: "b", OpType: "Relu", Inputs: []string{"t1"}, Outputs: []string{"t2"}},
		{Name: "a", OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"t1"}},
	}
	sorted, err := topologicalSort(nodes)
	require.NoError(t, err)
	assert.Equal(t, "a", sorted[0].Name)
	assert.Equal(t, "b", sorted[1].Name)

	cyclic := []NodeProto{
		{Name: "a", OpType: "Relu", Inputs: []string{"t2"}, Outputs: []string{"t1"}},
		{Name: "b", OpType: "Relu", Inputs: []string{"t1"}, Outputs: []string{"t2"}},
	}
	_, err = topologicalSort(cyclic)
	assert.ErrorContains(t, err, "cycle")
}

func TestTensorFromProto(t *testing.T) {
	tp := TensorProto{DataType: TensorProtoInt64, Dims: []int64{2}, Int64Data: []int64{-1, 4}}
	x, err := tensorFromProto(&tp)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 4}, x.Data())

	_, err = tensorFromProto(&TensorProto{DataType: TensorProtoFloat, Dims: []int64{3}, RawData: []byte{0, 0, 0, 0}})
	assert.Error(t, err)

	_, err = tensorFromProto(&TensorProto{DataType: TensorProtoUint8, Dims: []int64{1}})
	assert.Error(t, err)
}
