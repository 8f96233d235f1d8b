package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/optim"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

func scalarParam(t *testing.T, name string, v float32) *nn.Parameter {
	t.Helper()
	x, err := tensor.FromSlice([]float32{v}, 1)
	require.NoError(t, err)
	return nn.NewParameter(name, x)
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	param := scalarParam(t, "x", 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1})

	param.Grad().Data()[0] = 1.0
	optimizer.Step()

	// x_new = 2.0 - 0.1 * 1.0
	assert.InDelta(t, 1.9, param.Tensor().Data()[0], 1e-6)
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	param := scalarParam(t, "x", 1.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	param.Grad().Data()[0] = 1.0
	optimizer.Step() // v = 1, x = 0.9
	optimizer.Step() // v = 1.9, x = 0.71

	assert.InDelta(t, 0.71, param.Tensor().Data()[0], 1e-6)
}

// TestAdam_FirstStep checks that bias correction makes the first step exactly lr*sign(grad).
func TestAdam_FirstStep(t *testing.T) {
	param := scalarParam(t, "x", 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.01, Eps: 1e-12})

	param.Grad().Data()[0] = 0.5
	optimizer.Step()

	assert.InDelta(t, 0.99, param.Tensor().Data()[0], 1e-6)
	assert.Equal(t, 1, optimizer.GetTimestep())
}

// TestAdam_Convergence minimizes f(x) = (x-3)^2.
func TestAdam_Convergence(t *testing.T) {
	param := scalarParam(t, "x", 0.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.1})

	for range 500 {
		optimizer.ZeroGrad()
		x := param.Tensor().Data()[0]
		param.Grad().Data()[0] = 2 * (x - 3)
		optimizer.Step()
	}

	assert.InDelta(t, 3.0, param.Tensor().Data()[0], 1e-2)
}

// TestAdam_Defaults verifies zero config fields fall back to defaults.
func TestAdam_Defaults(t *testing.T) {
	optimizer := optim.NewAdam(nil, optim.AdamConfig{})
	assert.InDelta(t, 0.001, optimizer.GetLR(), 1e-9)

	optimizer.SetLR(0.0005)
	assert.InDelta(t, 0.0005, optimizer.GetLR(), 1e-9)
}

func TestZeroGrad(t *testing.T) {
	param := scalarParam(t, "x", 1.0)
	param.Grad().Data()[0] = 4
	optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{}).ZeroGrad()
	assert.Zero(t, param.Grad().Data()[0])
}

func TestNew(t *testing.T) {
	params := []*nn.Parameter{scalarParam(t, "x", 1.0)}

	o, err := optim.New(params, optim.Config{Name: "adam", LR: 0.002})
	require.NoError(t, err)
	assert.IsType(t, &optim.Adam{}, o)
	assert.InDelta(t, 0.002, o.GetLR(), 1e-9)

	o, err = optim.New(params, optim.Config{Name: "SGD"})
	require.NoError(t, err)
	assert.IsType(t, &optim.SGD{}, o)

	_, err = optim.New(params, optim.Config{Name: "rmsprop"})
	assert.Error(t, err)
}

func TestAdam_StepIsFinite(t *testing.T) {
	param := scalarParam(t, "x", 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{})
	optimizer.Step() // zero gradient
	v := float64(param.Tensor().Data()[0])
	assert.False(t, math.IsNaN(v))
	assert.Equal(t, 1.0, v)
}
