package model

import (
	"math/rand"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Layer names of the fixed topology.
const (
	LayerInput   = "input"
	LayerConv1   = "conv1"
	LayerAct1    = "act1"
	LayerPool1   = "pool1"
	LayerConv2   = "conv2"
	LayerAct2    = "act2"
	LayerPool2   = "pool2"
	LayerFlatten = "flatten"
	LayerDense   = "dense"
	LayerOutput  = "output"
)

// Build validates cfg and constructs the network. Invalid configuration is
// reported as a *ConfigError before any layer is allocated.
func Build(cfg Config) (*nn.Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	rng := rand.New(rand.NewSource(cfg.Seed))
	in := tensor.Shape{cfg.InputShape[0], cfg.InputShape[1], cfg.InputShape[2]}

	m, err := nn.NewBuilder(in, rng).
		QConv2D(LayerConv1, cfg.Filters, cfg.KernelSize, cfg.Conv1).
		QActivation(LayerAct1, cfg.Act1).
		MaxPool2D(LayerPool1, PoolSize).
		QConv2D(LayerConv2, cfg.Filters, cfg.KernelSize, cfg.Conv2).
		QActivation(LayerAct2, cfg.Act2).
		MaxPool2D(LayerPool2, PoolSize).
		Flatten(LayerFlatten).
		QDense(LayerDense, cfg.NumClasses, cfg.Dense).
		Activation(LayerOutput, nn.Sigmoid).
		Build()
	if err != nil {
		return nil, &ConfigError{Field: "topology", Err: err}
	}
	return m, nil
}
