package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionAndUsage(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "qmnist "+version+"\n", out)

	code, _, errOut := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Commands:")

	code, _, errOut = runCLI(t, "serve")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `unknown command "serve"`)

	code, _, _ = runCLI(t, "train", "-h")
	assert.Equal(t, 0, code)
}

func TestTrainExportInspect(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
dataset:
  name: synthetic
  examples: 60
  batch_size: 10
model:
  filters: 4
log:
  level: error
`), 0o600))
	out := filepath.Join(dir, "out")

	code, stdout, stderr := runCLI(t, "train", "-config", cfgPath, "-epochs", "1", "-out", out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "trained 1 epochs")
	assert.Contains(t, stdout, "test accuracy")
	modelPath := filepath.Join(out, "model.qmdl")
	assert.FileExists(t, modelPath)
	assert.FileExists(t, filepath.Join(out, "qonnx_model.onnx"))
	assert.FileExists(t, filepath.Join(out, "training_history.svg"))

	exported := filepath.Join(dir, "copy.onnx")
	code, stdout, stderr = runCLI(t, "export", "-in", modelPath, "-out", exported, "-graph", "mnist")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, exported)

	code, stdout, stderr = runCLI(t, "inspect", exported)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `graph "mnist"`)
	assert.Contains(t, stdout, "5 quantizers")

	code, stdout, stderr = runCLI(t, "inspect", modelPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "qcnn model")
	assert.Contains(t, stdout, "conv1")
}

func TestCommandErrors(t *testing.T) {
	code, _, stderr := runCLI(t, "export")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "usage")

	code, _, stderr = runCLI(t, "inspect", filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "qmnist inspect")

	code, _, stderr = runCLI(t, "train", "-config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "open config")

	code, _, _ = runCLI(t, "train", "-dataset", "synthetic", "-examples", "30", "-epochs", "1", "-lr", "-1",
		"-log-level", "error", "-no-export", "-out", t.TempDir())
	assert.Equal(t, 0, code, "negative overrides are ignored")
}
