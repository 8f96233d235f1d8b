package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jonGuti13/qonnx2mdc/internal/dataset"
	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/optim"
)

// ErrNonFiniteLoss is returned when a batch produces a NaN or infinite loss.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// FitConfig configures Fit.
type FitConfig struct {
	Epochs    int
	Optimizer optim.Optimizer
	Loss      *nn.CategoricalCrossEntropy // nil selects the default loss
	Callbacks []Callback
	Logger    *zap.Logger // nil disables logging
}

// Metrics summarizes a pass over a dataset.
type Metrics struct {
	Loss     float64
	Accuracy float64
	Examples int
}

// Fit trains m for up to cfg.Epochs epochs, updating its parameters in place.
//
// After every epoch the model is evaluated on val (an empty pipeline skips
// validation and callbacks monitor training loss), a Record is appended to
// the history, and callbacks run in order. Cancellation is checked between
// batches. On error the history of completed epochs is returned with it.
func Fit(ctx context.Context, m *nn.Model, trainData, val dataset.Pipeline[dataset.Minibatch], cfg FitConfig) (*History, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("train: epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.Optimizer == nil {
		return nil, errors.New("train: optimizer is required")
	}
	lossFn := cfg.Loss
	if lossFn == nil {
		lossFn = nn.NewCategoricalCrossEntropy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, cb := range cfg.Callbacks {
		cb.OnTrainBegin()
	}

	hist := &History{}
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		lr := cfg.Optimizer.GetLR()

		tm, err := trainEpoch(ctx, m, trainData, cfg.Optimizer, lossFn)
		if err != nil {
			return hist, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		vm, err := Evaluate(ctx, m, val, lossFn)
		if err != nil {
			return hist, fmt.Errorf("train: epoch %d validation: %w", epoch, err)
		}

		rec := Record{Epoch: epoch, Loss: tm.Loss, Accuracy: tm.Accuracy, LR: lr}
		if vm.Examples > 0 {
			rec.ValLoss, rec.ValAccuracy = vm.Loss, vm.Accuracy
			hist.Validated = true
		}
		rec.Duration = time.Since(start)
		hist.append(rec)

		logger.Info("epoch",
			zap.Int("epoch", epoch),
			zap.Int("epochs", cfg.Epochs),
			zap.Float64("loss", rec.Loss),
			zap.Float64("accuracy", rec.Accuracy),
			zap.Float64("val_loss", rec.ValLoss),
			zap.Float64("val_accuracy", rec.ValAccuracy),
			zap.Float32("lr", rec.LR),
			zap.Duration("duration", rec.Duration))

		state := &EpochState{
			Record:    rec,
			Monitor:   hist.monitor(rec),
			Model:     m,
			Optimizer: cfg.Optimizer,
			Logger:    logger,
		}
		for _, cb := range cfg.Callbacks {
			if err := cb.OnEpochEnd(state); err != nil {
				return hist, fmt.Errorf("train: epoch %d: %w", epoch, err)
			}
		}
		if state.stop {
			hist.StoppedEarly = true
			break
		}
	}
	return hist, nil
}

func trainEpoch(ctx context.Context, m *nn.Model, data dataset.Pipeline[dataset.Minibatch], opt optim.Optimizer, lossFn *nn.CategoricalCrossEntropy) (Metrics, error) {
	var (
		sum     float64
		correct int
		n       int
		batch   int
	)
	for b := range data.All() {
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}
		opt.ZeroGrad()
		pred := m.Forward(b.Images)
		loss, grad := lossFn.Forward(pred, b.Labels)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return Metrics{}, fmt.Errorf("%w: batch %d: %v", ErrNonFiniteLoss, batch, loss)
		}
		m.Backward(grad)
		opt.Step()

		size := b.Size()
		sum += loss * float64(size)
		correct += nn.CountCorrect(pred, b.Labels)
		n += size
		batch++
	}
	if err := data.Err(); err != nil {
		return Metrics{}, err
	}
	if n == 0 {
		return Metrics{}, errors.New("training data is empty")
	}
	return Metrics{Loss: sum / float64(n), Accuracy: float64(correct) / float64(n), Examples: n}, nil
}

// Evaluate computes loss and accuracy over one pass of data without
// touching parameters. An empty pipeline yields zero Metrics.
func Evaluate(ctx context.Context, m *nn.Model, data dataset.Pipeline[dataset.Minibatch], lossFn *nn.CategoricalCrossEntropy) (Metrics, error) {
	if lossFn == nil {
		lossFn = nn.NewCategoricalCrossEntropy()
	}
	var (
		sum     float64
		correct int
		n       int
	)
	for b := range data.All() {
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}
		pred := m.Forward(b.Images)
		loss, _ := lossFn.Forward(pred, b.Labels)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return Metrics{}, fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)
		}
		size := b.Size()
		sum += loss * float64(size)
		correct += nn.CountCorrect(pred, b.Labels)
		n += size
	}
	if err := data.Err(); err != nil {
		return Metrics{}, err
	}
	if n == 0 {
		return Metrics{}, nil
	}
	return Metrics{Loss: sum / float64(n), Accuracy: float64(correct) / float64(n), Examples: n}, nil
}
