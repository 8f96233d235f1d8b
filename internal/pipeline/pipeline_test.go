package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonGuti13/qonnx2mdc/internal/config"
	"github.com/jonGuti13/qonnx2mdc/internal/dataset"
	"github.com/jonGuti13/qonnx2mdc/internal/model"
	"github.com/jonGuti13/qonnx2mdc/internal/onnx"
	"github.com/jonGuti13/qonnx2mdc/internal/quant"
	"github.com/jonGuti13/qonnx2mdc/internal/train"
)

func syntheticConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dataset.Name = "synthetic"
	cfg.Dataset.Examples = 60
	cfg.Dataset.BatchSize = 10
	cfg.Dataset.ShuffleBuffer = 100
	cfg.Epochs = 2
	cfg.Model.Filters = 4
	fine := quant.Spec{Bits: 16, Integer: 6}
	cfg.Model.Conv1, cfg.Model.Conv2, cfg.Model.Dense = fine, fine, fine
	cfg.OutputDir = t.TempDir()

	resolved, err := cfg.Resolve()
	require.NoError(t, err)
	return resolved
}

func TestRunSynthetic(t *testing.T) {
	cfg := syntheticConfig(t)
	res, err := Run(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	require.NotNil(t, res.History)
	assert.Equal(t, 2, res.History.Len())
	assert.True(t, res.History.Validated)
	assert.Equal(t, 12, res.Test.Examples)
	assert.Equal(t, 2, res.KeptEpoch)

	assert.Equal(t, filepath.Join(cfg.OutputDir, "model.qmdl"), res.ModelPath)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "qonnx_model.onnx"), res.ONNXPath)
	assert.FileExists(t, res.PlotPath)

	art, err := model.Load(res.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, art.Header.RunID)
	assert.Equal(t, cfg.Model, art.Config)
	require.NotNil(t, art.Header.Training)
	assert.Equal(t, 2, art.Header.Training.Epochs)
	assert.Equal(t, "adam", art.Header.Training.Optimizer)
	assert.InDelta(t, res.Test.Accuracy, art.Header.Training.TestAccuracy, 1e-12)

	info, err := onnx.GetModelInfo(res.ONNXPath)
	require.NoError(t, err)
	assert.Equal(t, 5, info.QuantNodes())
	assert.Equal(t, res.RunID, info.Metadata["run_id"])
	assert.Equal(t, "synthetic", info.Metadata["dataset"])

	// Re-exporting the saved artifact reproduces the same graph.
	again := filepath.Join(t.TempDir(), "again.onnx")
	_, err = ExportFile(res.ModelPath, again, "")
	require.NoError(t, err)
	orig, err := onnx.ParseFile(res.ONNXPath)
	require.NoError(t, err)
	re, err := onnx.ParseFile(again)
	require.NoError(t, err)
	assert.Equal(t, orig.Graph, re.Graph)
}

func TestRunWithoutExport(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Export.Enabled = false
	cfg.Dataset.TestSplit = ""
	cfg.Dataset.Prefetch = 0

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, res.ONNXPath)
	assert.Zero(t, res.Test)
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, ONNXFile))
	assert.FileExists(t, res.ModelPath)
}

func TestRunDataUnavailable(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Dataset.Name = "mnist"
	cfg.Dataset.DataDir = t.TempDir()

	_, err := Run(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, dataset.ErrDataUnavailable)

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written when data is missing")
}

func TestRunCancelled(t *testing.T) {
	cfg := syntheticConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunNeedsResolvedConfig(t *testing.T) {
	_, err := Run(context.Background(), config.Default(), nil)
	assert.ErrorContains(t, err, "Resolve")
}

func TestCallbacks(t *testing.T) {
	cfg := config.Default()
	cbs, es, err := Callbacks(cfg)
	require.NoError(t, err)
	assert.Len(t, cbs, 2)
	require.NotNil(t, es)
	assert.True(t, es.RestoresBest())

	cfg.EarlyStopping = nil
	cbs, es, err = Callbacks(cfg)
	require.NoError(t, err)
	assert.Len(t, cbs, 1)
	assert.Nil(t, es)

	cfg.ReduceLR = &train.PlateauConfig{Factor: 3}
	_, _, err = Callbacks(cfg)
	assert.ErrorIs(t, err, train.ErrInvalidCallback)
}

func TestKeptRecord(t *testing.T) {
	hist := &train.History{Records: []train.Record{{Epoch: 1}, {Epoch: 2}, {Epoch: 3}}}
	assert.Equal(t, 3, keptRecord(hist, nil).Epoch)

	es := train.NewEarlyStopping(train.EarlyStoppingConfig{Patience: 1, RestoreBest: true})
	assert.Equal(t, 3, keptRecord(hist, es).Epoch, "not stopped")
}
