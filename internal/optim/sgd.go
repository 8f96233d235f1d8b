package optim

import (
	"github.com/jonGuti13/qonnx2mdc/internal/nn"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	params     []*nn.Parameter
	lr         float32
	momentum   float32
	velocities [][]float32
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	s := &SGD{params: params, lr: config.LR, momentum: config.Momentum}
	if s.momentum != 0 {
		s.velocities = make([][]float32, len(params))
		for i, p := range params {
			s.velocities[i] = make([]float32, p.Tensor().Len())
		}
	}
	return s
}

// Step performs a single optimization step.
func (s *SGD) Step() {
	for i, param := range s.params {
		grad := param.Grad().Data()
		data := param.Tensor().Data()
		if s.momentum == 0 {
			for j, g := range grad {
				data[j] -= s.lr * g
			}
			continue
		}
		vel := s.velocities[i]
		for j, g := range grad {
			vel[j] = s.momentum*vel[j] + g
			data[j] -= s.lr * vel[j]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	zeroGrad(s.params)
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
