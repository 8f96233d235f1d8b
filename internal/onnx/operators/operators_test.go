package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

func mk(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape...)
	require.NoError(t, err)
	return x
}

func scalar(t *testing.T, v float32) *tensor.Tensor {
	return mk(t, []float32{v}, 1)
}

func run(t *testing.T, node *Node, inputs ...*tensor.Tensor) *tensor.Tensor {
	t.Helper()
	out, err := NewRegistry().Execute(nil, node, inputs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	for _, op := range []string{"Add", "MatMul", "Relu", "Sigmoid", "Transpose", "Flatten", "Conv", "MaxPool"} {
		assert.True(t, r.Supports(DomainONNX, op), op)
		assert.True(t, r.Supports("ai.onnx", op), op)
	}
	for _, op := range []string{OpQuant, OpBipolarQuant, OpTrunc} {
		assert.True(t, r.Supports(DomainQONNX, op), op)
		assert.False(t, r.Supports(DomainONNX, op), op)
	}
	assert.False(t, r.Supports(DomainONNX, "UnknownOp"))

	ops := r.SupportedOps()
	assert.Len(t, ops, 13)
	assert.Equal(t, "Add", ops[0].String())
	assert.Equal(t, "qonnx.custom_op.general.BipolarQuant", ops[10].String())
}

func TestExecuteUnknown(t *testing.T) {
	_, err := NewRegistry().Execute(nil, &Node{OpType: "Softmax"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operator: Softmax")
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("my.domain", "Double", func(_ *Context, _ *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(mapElements(in[0], func(v float32) float32 { return 2 * v })), nil
	})

	out, err := r.Execute(nil, &Node{OpType: "Double", Domain: "my.domain"}, []*tensor.Tensor{mk(t, []float32{1, 2}, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, out[0].Data())
}

func TestQuantSigned(t *testing.T) {
	node := &Node{OpType: OpQuant, Domain: DomainQONNX, Attributes: []Attribute{
		{Name: "signed", I: 1},
		{Name: "narrow", I: 0},
		{Name: "rounding_mode", S: []byte("ROUND")},
	}}
	x := mk(t, []float32{0.3, -20, 0.0625, 0.1875, 100}, 5)
	out := run(t, node, x, scalar(t, 0.125), scalar(t, 0), scalar(t, 8))

	assert.Equal(t, []float32{0.25, -16, 0, 0.25, 15.875}, out.Data())
}

func TestQuantUnsignedAndNarrow(t *testing.T) {
	unsigned := &Node{OpType: OpQuant, Domain: DomainQONNX, Attributes: []Attribute{{Name: "signed", I: 0}}}
	out := run(t, unsigned, mk(t, []float32{-1, 20, 0.5}, 3), scalar(t, 0.0625), scalar(t, 0), scalar(t, 8))
	assert.Equal(t, []float32{0, 15.9375, 0.5}, out.Data())

	narrow := &Node{OpType: OpQuant, Domain: DomainQONNX, Attributes: []Attribute{{Name: "narrow", I: 1}}}
	out = run(t, narrow, mk(t, []float32{-5, 5}, 2), scalar(t, 1), scalar(t, 0), scalar(t, 2))
	assert.Equal(t, []float32{-1, 1}, out.Data())
}

func TestQuantErrors(t *testing.T) {
	node := &Node{OpType: OpQuant, Domain: DomainQONNX}
	r := NewRegistry()
	x := mk(t, []float32{1, 2, 3}, 3)

	_, err := r.Execute(nil, node, []*tensor.Tensor{x, scalar(t, 1), scalar(t, 0)})
	assert.Error(t, err)

	_, err = r.Execute(nil, node, []*tensor.Tensor{x, mk(t, []float32{1, 1}, 2), scalar(t, 0), scalar(t, 8)})
	assert.Error(t, err)

	_, err = r.Execute(nil, node, []*tensor.Tensor{x, scalar(t, 1), scalar(t, 0), scalar(t, 0)})
	assert.Error(t, err)

	bad := &Node{OpType: OpQuant, Domain: DomainQONNX, Attributes: []Attribute{{Name: "rounding_mode", S: []byte("STOCHASTIC")}}}
	_, err = r.Execute(nil, bad, []*tensor.Tensor{x, scalar(t, 1), scalar(t, 0), scalar(t, 8)})
	assert.ErrorContains(t, err, "rounding_mode")
}

func TestBipolarQuant(t *testing.T) {
	node := &Node{OpType: OpBipolarQuant, Domain: DomainQONNX}
	out := run(t, node, mk(t, []float32{0, -0.1, 3}, 3), scalar(t, 2))
	assert.Equal(t, []float32{2, -2, 2}, out.Data())
}

func TestTrunc(t *testing.T) {
	node := &Node{OpType: OpTrunc, Domain: DomainQONNX, Attributes: []Attribute{{Name: "rounding_mode", S: []byte("FLOOR")}}}
	out := run(t, node, mk(t, []float32{0.75, 1.25, -0.25}, 3),
		scalar(t, 0.25), scalar(t, 0), scalar(t, 4), scalar(t, 2))
	assert.Equal(t, []float32{0, 1, -1}, out.Data())

	_, err := NewRegistry().Execute(nil, node, []*tensor.Tensor{
		scalar(t, 1), scalar(t, 1), scalar(t, 0), scalar(t, 2), scalar(t, 4),
	})
	assert.Error(t, err)
}

func TestResolveRounding(t *testing.T) {
	round, err := ResolveRounding("ROUND")
	require.NoError(t, err)
	assert.Equal(t, 2.0, round(2.5))
	assert.Equal(t, 4.0, round(3.5))

	floor, err := ResolveRounding("FLOOR")
	require.NoError(t, err)
	assert.Equal(t, -3.0, floor(-2.5))

	_, err = ResolveRounding("NEAREST")
	assert.Error(t, err)
}

func TestTransposeMatchesNHWCToNCHW(t *testing.T) {
	data := make([]float32, 2*3*4*5)
	for i := range data {
		data[i] = float32(i)
	}
	x := mk(t, data, 2, 3, 4, 5)
	node := &Node{OpType: "Transpose", Attributes: []Attribute{{Name: "perm", Ints: []int64{0, 3, 1, 2}}}}

	out := run(t, node, x)
	want := tensor.NHWCToNCHW(x)
	assert.Equal(t, want.Shape(), out.Shape())
	assert.Equal(t, want.Data(), out.Data())
}

func TestTransposeDefaultReverses(t *testing.T) {
	x := mk(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	out := run(t, &Node{OpType: "Transpose"}, x)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Data())
}

func TestConvSamePadding(t *testing.T) {
	ones := func(n int) []float32 {
		d := make([]float32, n)
		for i := range d {
			d[i] = 1
		}
		return d
	}
	node := &Node{OpType: "Conv", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{3, 3}},
		{Name: "pads", Ints: []int64{1, 1, 1, 1}},
		{Name: "strides", Ints: []int64{1, 1}},
	}}
	out := run(t, node, mk(t, ones(9), 1, 1, 3, 3), mk(t, ones(9), 1, 1, 3, 3), mk(t, []float32{0.5}, 1))

	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, out.Shape())
	assert.Equal(t, []float32{4.5, 6.5, 4.5, 6.5, 9.5, 6.5, 4.5, 6.5, 4.5}, out.Data())
}

func TestConvRejectsGroups(t *testing.T) {
	node := &Node{OpType: "Conv", Attributes: []Attribute{{Name: "group", I: 2}}}
	_, err := NewRegistry().Execute(nil, node, []*tensor.Tensor{
		tensor.Zeros(1, 2, 3, 3), tensor.Zeros(2, 1, 3, 3),
	})
	assert.Error(t, err)
}

func TestMaxPool(t *testing.T) {
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	node := &Node{OpType: "MaxPool", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{2, 2}},
		{Name: "strides", Ints: []int64{2, 2}},
	}}
	out := run(t, node, mk(t, data, 1, 1, 4, 4))

	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{5, 7, 13, 15}, out.Data())
}

func TestFlattenMatMulAdd(t *testing.T) {
	x := mk(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	flat := run(t, &Node{OpType: "Flatten", Attributes: []Attribute{{Name: "axis", I: 1}}}, x)
	assert.Equal(t, tensor.Shape{1, 4}, flat.Shape())

	w := mk(t, []float32{1, 0, 0, 1, 1, 0, 0, 1}, 4, 2)
	y := run(t, &Node{OpType: "MatMul"}, flat, w)
	assert.Equal(t, []float32{4, 6}, y.Data())

	z := run(t, &Node{OpType: "Add"}, y, mk(t, []float32{0.5, -1}, 2))
	assert.Equal(t, []float32{4.5, 5}, z.Data())

	_, err := NewRegistry().Execute(nil, &Node{OpType: "Add"}, []*tensor.Tensor{y, mk(t, []float32{1, 2, 3}, 3)})
	assert.Error(t, err)
}

func TestReshape(t *testing.T) {
	x := mk(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	out := run(t, &Node{OpType: "Reshape"}, x, mk(t, []float32{0, -1, 1}, 3))
	assert.Equal(t, tensor.Shape{2, 3, 1}, out.Shape())

	_, err := NewRegistry().Execute(nil, &Node{OpType: "Reshape"}, []*tensor.Tensor{x, mk(t, []float32{4, -1}, 2)})
	assert.Error(t, err)
}

func TestActivations(t *testing.T) {
	x := mk(t, []float32{-1, 0, 2}, 3)
	assert.Equal(t, []float32{0, 0, 2}, run(t, &Node{OpType: "Relu"}, x).Data())

	s := run(t, &Node{OpType: "Sigmoid"}, x).Data()
	assert.InDelta(t, 0.2689414, s[0], 1e-6)
	assert.InDelta(t, 0.5, s[1], 1e-6)
}
