// Package pipeline runs a full training job: data, model, fit, save, export.
//
// The stages run strictly in order and every failure ends the run. All
// files land in the resolved output directory of the config.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonGuti13/qonnx2mdc/internal/config"
	"github.com/jonGuti13/qonnx2mdc/internal/dataset"
	"github.com/jonGuti13/qonnx2mdc/internal/model"
	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/onnx"
	"github.com/jonGuti13/qonnx2mdc/internal/optim"
	"github.com/jonGuti13/qonnx2mdc/internal/serialization"
	"github.com/jonGuti13/qonnx2mdc/internal/train"
)

// Output file names.
const (
	ModelFile = model.FileName
	ONNXFile  = "qonnx_model.onnx"
	PlotFile  = "training_history.svg"
)

// Result describes a finished run.
type Result struct {
	RunID     string
	History   *train.History
	Test      train.Metrics // zero when no test split is configured
	KeptEpoch int           // epoch whose weights were saved
	ModelPath string
	PlotPath  string
	ONNXPath  string // empty when export is disabled
}

// Data holds the batched pipelines of one run.
type Data struct {
	Train, Val, Test dataset.Pipeline[dataset.Minibatch]
}

// Run executes every stage for a resolved config. A nil logger disables
// logging.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Result, error) {
	if cfg.OutputDir == "" {
		return nil, errors.New("pipeline: config has no output directory; call Resolve first")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	res := &Result{RunID: runID}

	start := time.Now()
	logger.Info("loading data",
		zap.String("dataset", cfg.Dataset.Name),
		zap.String("train", cfg.Dataset.TrainSplit),
		zap.String("val", cfg.Dataset.ValSplit),
		zap.String("test", cfg.Dataset.TestSplit))
	data, err := LoadData(ctx, cfg.Dataset, cfg.Model.NumClasses)
	if err != nil {
		return nil, fmt.Errorf("pipeline: data: %w", err)
	}
	logger.Debug("data ready", zap.Duration("took", time.Since(start)))

	m, err := model.Build(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build: %w", err)
	}
	logger.Info("model built", zap.Int("parameters", m.NumParameters()))
	logger.Debug("model summary\n" + m.Summary())

	opt, err := optim.New(m.Parameters(), cfg.Optimizer)
	if err != nil {
		return nil, fmt.Errorf("pipeline: optimizer: %w", err)
	}
	callbacks, es, err := Callbacks(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	hist, err := train.Fit(ctx, m, data.Train, data.Val, train.FitConfig{
		Epochs:    cfg.Epochs,
		Optimizer: opt,
		Callbacks: callbacks,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: fit: %w", err)
	}
	res.History = hist

	res.Test, err = train.Evaluate(ctx, m, data.Test, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: test: %w", err)
	}
	if res.Test.Examples > 0 {
		logger.Info("test",
			zap.Float64("loss", res.Test.Loss),
			zap.Float64("accuracy", res.Test.Accuracy),
			zap.Int("examples", res.Test.Examples))
	}

	kept := keptRecord(hist, es)
	res.KeptEpoch = kept.Epoch
	res.ModelPath = cfg.Path(ModelFile)
	meta := &serialization.TrainingMeta{
		Epochs:       hist.Len(),
		BestEpoch:    kept.Epoch,
		Loss:         kept.Loss,
		Accuracy:     kept.Accuracy,
		ValLoss:      kept.ValLoss,
		ValAccuracy:  kept.ValAccuracy,
		TestAccuracy: res.Test.Accuracy,
		Optimizer:    optimizerName(cfg.Optimizer),
		LR:           float64(opt.GetLR()),
		StoppedEarly: hist.StoppedEarly,
	}
	if err := model.Save(res.ModelPath, m, cfg.Model, meta, runID); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logger.Info("model saved", zap.String("path", res.ModelPath), zap.Int("epoch", kept.Epoch))

	res.PlotPath = cfg.Path(PlotFile)
	if err := hist.PlotSVG(res.PlotPath); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if cfg.Export.Enabled {
		res.ONNXPath = cfg.Path(ONNXFile)
		if err := onnx.Export(m, res.ONNXPath, exportOptions(cfg, runID)); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		logger.Info("exported", zap.String("path", res.ONNXPath))
	}

	logger.Info("done", zap.Duration("took", time.Since(start)))
	return res, nil
}

// LoadData resolves the three splits. Only the training split is shuffled.
func LoadData(ctx context.Context, dc config.DatasetConfig, numClasses int) (*Data, error) {
	trainData, err := loadSplit(ctx, dc, dc.TrainSplit, numClasses, true)
	if err != nil {
		return nil, err
	}
	val, err := loadSplit(ctx, dc, dc.ValSplit, numClasses, false)
	if err != nil {
		return nil, err
	}
	test, err := loadSplit(ctx, dc, dc.TestSplit, numClasses, false)
	if err != nil {
		return nil, err
	}
	return &Data{Train: trainData, Val: val, Test: test}, nil
}

// loadSplit returns an empty pipeline for an empty split string.
func loadSplit(ctx context.Context, dc config.DatasetConfig, split string, numClasses int, shuffle bool) (dataset.Pipeline[dataset.Minibatch], error) {
	if split == "" {
		return dataset.Pipeline[dataset.Minibatch]{}, nil
	}
	raw, err := dataset.Load(ctx, dc.Name, split, dc.Options)
	if err != nil {
		return dataset.Pipeline[dataset.Minibatch]{}, err
	}
	examples := dataset.Preprocessed(raw, numClasses)
	if shuffle && dc.ShuffleBuffer > 0 {
		examples = examples.Shuffle(dc.ShuffleBuffer, dc.Seed)
	}
	batches := dataset.Batches(examples, dc.BatchSize, false)
	if dc.Prefetch > 0 {
		batches = batches.Prefetch(dc.Prefetch)
	}
	return batches, nil
}

// Callbacks builds the configured callbacks. The EarlyStopping instance is
// returned separately, nil when disabled.
func Callbacks(cfg *config.Config) ([]train.Callback, *train.EarlyStopping, error) {
	var (
		cbs []train.Callback
		es  *train.EarlyStopping
	)
	if cfg.EarlyStopping != nil {
		es = train.NewEarlyStopping(*cfg.EarlyStopping)
		cbs = append(cbs, es)
	}
	if cfg.ReduceLR != nil {
		r, err := train.NewReduceLROnPlateau(*cfg.ReduceLR)
		if err != nil {
			return nil, nil, err
		}
		cbs = append(cbs, r)
	}
	return cbs, es, nil
}

// keptRecord returns the record of the weights left in the model: the best
// epoch when early stopping restored it, the last epoch otherwise.
func keptRecord(hist *train.History, es *train.EarlyStopping) train.Record {
	last, _ := hist.Last()
	if es == nil || es.StoppedEpoch() == 0 || !es.RestoresBest() {
		return last
	}
	for _, r := range hist.Records {
		if r.Epoch == es.BestEpoch() {
			return r
		}
	}
	return last
}

func optimizerName(c optim.Config) string {
	if c.Name == "" {
		return "adam"
	}
	return strings.ToLower(c.Name)
}

func exportOptions(cfg *config.Config, runID string) onnx.ExportOptions {
	opts := onnx.DefaultExportOptions()
	if cfg.Export.GraphName != "" {
		opts.GraphName = cfg.Export.GraphName
	}
	opts.Metadata = map[string]string{
		"run_id":  runID,
		"dataset": cfg.Dataset.Name,
	}
	return opts
}

// ExportFile converts a saved .qmdl model to QONNX.
func ExportFile(modelPath, onnxPath, graphName string) (*nn.Model, error) {
	art, err := model.Load(modelPath)
	if err != nil {
		return nil, err
	}
	opts := onnx.DefaultExportOptions()
	if graphName != "" {
		opts.GraphName = graphName
	}
	opts.Metadata = map[string]string{"run_id": art.Header.RunID}
	if err := onnx.Export(art.Model, onnxPath, opts); err != nil {
		return nil, err
	}
	return art.Model, nil
}
