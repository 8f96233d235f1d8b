package model

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/serialization"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

func withAllSpecs(s quant.Spec) Config {
	cfg := DefaultConfig()
	cfg.Conv1, cfg.Conv2, cfg.Dense, cfg.Act1, cfg.Act2 = s, s, s, s, s
	return cfg
}

func TestBuildOutputShape(t *testing.T) {
	m, err := Build(DefaultConfig())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 5} {
		x := tensor.Zeros(n, 28, 28, 1)
		for i := range x.Data() {
			x.Data()[i] = float32(rng.Float64())
		}
		assert.Equal(t, tensor.Shape{n, 10}, m.Forward(x).Shape())
	}
}

func TestBuildTopology(t *testing.T) {
	m, err := Build(DefaultConfig())
	require.NoError(t, err)

	var kinds []nn.Kind
	var names []string
	for _, l := range m.Layers() {
		kinds = append(kinds, l.Kind())
		names = append(names, l.Name())
	}
	assert.Equal(t, []nn.Kind{
		nn.KindInput, nn.KindQConv2D, nn.KindQActivation, nn.KindMaxPool2D,
		nn.KindQConv2D, nn.KindQActivation, nn.KindMaxPool2D,
		nn.KindFlatten, nn.KindQDense, nn.KindActivation,
	}, kinds)
	assert.Equal(t, []string{
		LayerInput, LayerConv1, LayerAct1, LayerPool1, LayerConv2,
		LayerAct2, LayerPool2, LayerFlatten, LayerDense, LayerOutput,
	}, names)

	conv := m.Layer(LayerConv1).(*nn.QConv2D)
	assert.Equal(t, 32, conv.Filters())
	assert.Equal(t, 3, conv.KernelSize())
	assert.Equal(t, nn.Sigmoid, m.Layer(LayerOutput).(*nn.Activation).Func())
}

func TestBuildAcceptsEveryValidSpec(t *testing.T) {
	// Small input keeps the sweep fast; validity does not depend on it.
	for bits := 1; bits <= quant.MaxBits; bits++ {
		for integer := 1; integer <= bits; integer++ {
			cfg := withAllSpecs(quant.Spec{Bits: bits, Integer: integer})
			cfg.InputShape = [3]int{8, 8, 1}
			cfg.Filters = 2
			_, err := Build(cfg)
			require.NoError(t, err, "spec (%d,%d)", bits, integer)
		}
	}
}

func TestBuildRejectsIntegerAboveBits(t *testing.T) {
	for _, field := range []string{"conv1", "act1", "conv2", "act2", "dense"} {
		t.Run(field, func(t *testing.T) {
			cfg := DefaultConfig()
			bad := quant.Spec{Bits: 4, Integer: 5}
			switch field {
			case "conv1":
				cfg.Conv1 = bad
			case "act1":
				cfg.Act1 = bad
			case "conv2":
				cfg.Conv2 = bad
			case "act2":
				cfg.Act2 = bad
			case "dense":
				cfg.Dense = bad
			}
			_, err := Build(cfg)

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, field, cerr.Field)
			assert.ErrorIs(t, err, quant.ErrInvalidSpec)
		})
	}
}

func TestBuildRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero channel", func(c *Config) { c.InputShape = [3]int{28, 28, 0} }, "input_shape"},
		{"too small for two pools", func(c *Config) { c.InputShape = [3]int{3, 28, 1} }, "input_shape"},
		{"no classes", func(c *Config) { c.NumClasses = 0 }, "num_classes"},
		{"negative filters", func(c *Config) { c.Filters = -1 }, "filters"},
		{"kernel larger than input", func(c *Config) { c.InputShape = [3]int{4, 4, 1}; c.KernelSize = 5 }, "kernel_size"},
		{"bits too wide", func(c *Config) { c.Dense = quant.Spec{Bits: 33, Integer: 4} }, "dense"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := Build(cfg)
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestBuildIsSeeded(t *testing.T) {
	a, err := Build(DefaultConfig())
	require.NoError(t, err)
	b, err := Build(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.StateDict()["conv1.kernel"].Data(), b.StateDict()["conv1.kernel"].Data())

	cfg := DefaultConfig()
	cfg.Seed = 2
	c, err := Build(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.StateDict()["conv1.kernel"].Data(), c.StateDict()["conv1.kernel"].Data())
}

func TestSaveLoad(t *testing.T) {
	cfg := withAllSpecs(quant.Spec{Bits: 6, Integer: 2})
	m, err := Build(cfg)
	require.NoError(t, err)
	m.StateDict()["dense.bias"].Fill(0.75)

	path := filepath.Join(t.TempDir(), FileName)
	meta := &serialization.TrainingMeta{Epochs: 4, BestEpoch: 3, ValAccuracy: 0.9, Optimizer: "adam"}
	require.NoError(t, Save(path, m, cfg, meta, "run-1"))

	a, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, a.Config)
	assert.Equal(t, "run-1", a.Header.RunID)
	assert.Equal(t, meta, a.Header.Training)
	for name, want := range m.StateDict() {
		assert.Equal(t, want.Data(), a.Model.StateDict()[name].Data(), name)
	}

	x := tensor.Zeros(2, 28, 28, 1)
	x.Fill(0.5)
	assert.Equal(t, m.Forward(x).Data(), a.Model.Forward(x).Data())
}

func TestLoadRejectsForeignModelType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.qmdl")
	require.NoError(t, serialization.WriteFile(path, map[string]*tensor.Tensor{"w": tensor.Zeros(1)},
		serialization.Header{ModelType: "mlp"}))
	_, err := Load(path)
	assert.ErrorContains(t, err, `"mlp"`)
}
