package train

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/optim"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// EpochState is handed to every callback after each epoch.
type EpochState struct {
	Record    Record
	Monitor   float64 // val_loss, or loss when training without validation
	Model     *nn.Model
	Optimizer optim.Optimizer
	Logger    *zap.Logger

	stop bool
}

// StopTraining ends Fit after the current epoch.
func (s *EpochState) StopTraining() {
	s.stop = true
}

// Callback observes training once per epoch.
type Callback interface {
	// OnTrainBegin resets state so a callback can serve several Fit calls.
	OnTrainBegin()

	// OnEpochEnd runs after validation. Returning an error aborts Fit.
	OnEpochEnd(s *EpochState) error
}

// EarlyStoppingConfig configures EarlyStopping.
type EarlyStoppingConfig struct {
	Patience    int     `yaml:"patience" json:"patience"`         // epochs without improvement before stopping
	MinDelta    float64 `yaml:"min_delta" json:"min_delta"`       // smallest decrease counted as improvement
	RestoreBest bool    `yaml:"restore_best" json:"restore_best"` // reload the best weights when stopping
}

// EarlyStopping stops training once the monitored loss has not improved
// by more than MinDelta for Patience epochs.
type EarlyStopping struct {
	cfg          EarlyStoppingConfig
	best         float64
	wait         int
	bestEpoch    int
	bestWeights  map[string]*tensor.Tensor
	stoppedEpoch int
}

// NewEarlyStopping creates the callback. Negative values are treated as zero.
func NewEarlyStopping(cfg EarlyStoppingConfig) *EarlyStopping {
	cfg.Patience = max(cfg.Patience, 0)
	cfg.MinDelta = math.Abs(cfg.MinDelta)
	e := &EarlyStopping{cfg: cfg}
	e.OnTrainBegin()
	return e
}

func (e *EarlyStopping) OnTrainBegin() {
	e.best = math.Inf(1)
	e.wait = 0
	e.bestEpoch = 0
	e.bestWeights = nil
	e.stoppedEpoch = 0
}

func (e *EarlyStopping) OnEpochEnd(s *EpochState) error {
	e.wait++
	if s.Monitor < e.best-e.cfg.MinDelta {
		e.best = s.Monitor
		e.bestEpoch = s.Record.Epoch
		e.wait = 0
		if e.cfg.RestoreBest {
			e.bestWeights = s.Model.Snapshot()
		}
		return nil
	}
	if e.wait < e.cfg.Patience || s.Record.Epoch <= 1 {
		return nil
	}

	e.stoppedEpoch = s.Record.Epoch
	s.StopTraining()
	s.Logger.Info("early stopping",
		zap.Int("epoch", s.Record.Epoch),
		zap.Int("best_epoch", e.bestEpoch),
		zap.Float64("best", e.best))
	if e.cfg.RestoreBest && e.bestWeights != nil {
		if err := s.Model.LoadStateDict(e.bestWeights); err != nil {
			return fmt.Errorf("early stopping: restore epoch %d weights: %w", e.bestEpoch, err)
		}
		s.Logger.Info("restored best weights", zap.Int("epoch", e.bestEpoch))
	}
	return nil
}

// StoppedEpoch returns the epoch at which training was stopped, or 0.
func (e *EarlyStopping) StoppedEpoch() int { return e.stoppedEpoch }

// BestEpoch returns the epoch with the best monitored loss so far.
func (e *EarlyStopping) BestEpoch() int { return e.bestEpoch }

// RestoresBest reports whether stopping reloads the best weights.
func (e *EarlyStopping) RestoresBest() bool { return e.cfg.RestoreBest }

// PlateauConfig configures ReduceLROnPlateau.
type PlateauConfig struct {
	Factor   float64 `yaml:"factor" json:"factor"`       // new_lr = lr * factor, in (0, 1)
	Patience int     `yaml:"patience" json:"patience"`   // epochs without improvement before reducing
	MinDelta float64 `yaml:"min_delta" json:"min_delta"` // smallest decrease counted as improvement
	MinLR    float64 `yaml:"min_lr" json:"min_lr"`       // lower bound on the learning rate
	Cooldown int     `yaml:"cooldown" json:"cooldown"`   // epochs to wait after a reduction
}

// ErrInvalidCallback reports a callback configuration that cannot work.
var ErrInvalidCallback = errors.New("invalid callback configuration")

// ReduceLROnPlateau multiplies the learning rate by Factor once the
// monitored loss has stopped improving for Patience epochs.
type ReduceLROnPlateau struct {
	cfg             PlateauConfig
	best            float64
	wait            int
	cooldownCounter int
}

// NewReduceLROnPlateau creates the callback. A zero Factor defaults to 0.1.
func NewReduceLROnPlateau(cfg PlateauConfig) (*ReduceLROnPlateau, error) {
	if cfg.Factor == 0 {
		cfg.Factor = 0.1
	}
	if cfg.Factor <= 0 || cfg.Factor >= 1 {
		return nil, fmt.Errorf("%w: plateau factor %v must be in (0, 1)", ErrInvalidCallback, cfg.Factor)
	}
	if cfg.Patience < 0 || cfg.Cooldown < 0 || cfg.MinLR < 0 {
		return nil, fmt.Errorf("%w: plateau patience, cooldown and min_lr must be non-negative", ErrInvalidCallback)
	}
	cfg.MinDelta = math.Abs(cfg.MinDelta)
	r := &ReduceLROnPlateau{cfg: cfg}
	r.OnTrainBegin()
	return r, nil
}

func (r *ReduceLROnPlateau) OnTrainBegin() {
	r.best = math.Inf(1)
	r.wait = 0
	r.cooldownCounter = 0
}

func (r *ReduceLROnPlateau) OnEpochEnd(s *EpochState) error {
	if r.cooldownCounter > 0 {
		r.cooldownCounter--
		r.wait = 0
	}

	if s.Monitor < r.best-r.cfg.MinDelta {
		r.best = s.Monitor
		r.wait = 0
		return nil
	}
	if r.cooldownCounter > 0 {
		return nil
	}

	r.wait++
	if r.wait < r.cfg.Patience {
		return nil
	}
	old := float64(s.Optimizer.GetLR())
	if old <= r.cfg.MinLR {
		return nil
	}
	lr := math.Max(old*r.cfg.Factor, r.cfg.MinLR)
	s.Optimizer.SetLR(float32(lr))
	r.cooldownCounter = r.cfg.Cooldown
	r.wait = 0
	s.Logger.Info("reducing learning rate",
		zap.Int("epoch", s.Record.Epoch),
		zap.Float64("from", old),
		zap.Float64("to", lr))
	return nil
}
