// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read the gradients accumulated on each nn.Parameter by the
// layers' Backward passes and update the parameter values in place.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{
//	    LR: 0.001,
//	})
//
//	for batch := range batches {
//	    optimizer.ZeroGrad()
//	    pred := model.Forward(batch.Images)
//	    _, grad := loss.Forward(pred, batch.Labels)
//	    model.Backward(grad)
//	    optimizer.Step()
//	}
package optim

import (
	"fmt"
	"strings"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
)

// Optimizer is the base interface for all optimization algorithms.
//
// All optimizers must implement:
//   - Step: Apply gradient updates to parameters
//   - ZeroGrad: Clear gradients before next iteration
//   - GetLR/SetLR: Read and adjust the learning rate (for scheduling)
type Optimizer interface {
	// Step applies the accumulated parameter gradients.
	Step()

	// ZeroGrad clears all parameter gradients.
	//
	// This should be called before each backward pass to prevent
	// gradient accumulation from previous iterations.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)
}

// Config selects and parameterizes an optimizer.
type Config struct {
	Name     string     `yaml:"name"`     // "adam" or "sgd"
	LR       float32    `yaml:"lr"`       // Learning rate
	Betas    [2]float32 `yaml:"betas"`    // Adam only
	Eps      float32    `yaml:"eps"`      // Adam only
	Momentum float32    `yaml:"momentum"` // SGD only
}

// New creates the optimizer named by cfg.Name.
func New(params []*nn.Parameter, cfg Config) (Optimizer, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "adam":
		return NewAdam(params, AdamConfig{LR: cfg.LR, Betas: cfg.Betas, Eps: cfg.Eps}), nil
	case "sgd":
		return NewSGD(params, SGDConfig{LR: cfg.LR, Momentum: cfg.Momentum}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Name)
	}
}

func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
