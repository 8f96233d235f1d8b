// Package config holds the settings of a training run.
//
// A Config is read from YAML, adjusted by command-line overrides, validated,
// and finally resolved: Resolve fixes the output directory and creates it.
// The pipeline only ever sees a resolved Config and never consults the
// working directory itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jonGuti13/qonnx2mdc/internal/dataset"
	"github.com/jonGuti13/qonnx2mdc/internal/model"
	"github.com/jonGuti13/qonnx2mdc/internal/optim"
	"github.com/jonGuti13/qonnx2mdc/internal/train"
)

// OutputDirName is created next to the working directory when no output
// directory is configured.
const OutputDirName = "Mnist_Training"

// Config captures every knob of a run.
type Config struct {
	Dataset       DatasetConfig              `yaml:"dataset"`
	Model         model.Config               `yaml:"model"`
	Optimizer     optim.Config               `yaml:"optimizer"`
	Epochs        int                        `yaml:"epochs"`
	EarlyStopping *train.EarlyStoppingConfig `yaml:"early_stopping"`       // nil disables
	ReduceLR      *train.PlateauConfig       `yaml:"reduce_lr_on_plateau"` // nil disables
	Export        ExportConfig               `yaml:"export"`
	OutputDir     string                     `yaml:"output_dir"` // empty: <parent of cwd>/Mnist_Training
	Log           LogConfig                  `yaml:"log"`
}

// DatasetConfig selects the data and how it is fed to training.
type DatasetConfig struct {
	Name            string `yaml:"name"` // "mnist" or "synthetic"
	dataset.Options `yaml:",inline"`

	TrainSplit    string `yaml:"train_split"`
	ValSplit      string `yaml:"val_split"`
	TestSplit     string `yaml:"test_split"` // empty skips the test evaluation
	BatchSize     int    `yaml:"batch_size"`
	ShuffleBuffer int    `yaml:"shuffle_buffer"` // 0 disables shuffling
	Prefetch      int    `yaml:"prefetch"`
}

// ExportConfig controls the QONNX export stage.
type ExportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	GraphName string `yaml:"graph_name"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Development bool   `yaml:"development"` // console encoder instead of JSON
}

// Default returns the MNIST run: 90/10 train/validation split of the
// training set, batch 128, Adam at 1e-3, early stopping after 10 stale
// epochs and a 10x learning-rate cut after 3.
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Name:          "mnist",
			Options:       dataset.Options{DataDir: "data/mnist", Seed: 1},
			TrainSplit:    "train[:90%]",
			ValSplit:      "train[-10%:]",
			TestSplit:     "test",
			BatchSize:     128,
			ShuffleBuffer: 10000,
			Prefetch:      2,
		},
		Model:     model.DefaultConfig(),
		Optimizer: optim.Config{Name: "adam", LR: 0.001},
		Epochs:    30,
		EarlyStopping: &train.EarlyStoppingConfig{
			Patience:    10,
			RestoreBest: true,
		},
		ReduceLR: &train.PlateauConfig{
			Factor:   0.1,
			Patience: 3,
			MinLR:    1e-7,
		},
		Export: ExportConfig{Enabled: true, GraphName: "qcnn"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overrides captures CLI supplied values. Zero values leave the config alone.
type Overrides struct {
	Dataset   string
	DataDir   string
	Examples  int
	Epochs    int
	BatchSize int
	LR        float64
	Seed      int64
	OutputDir string
	LogLevel  string
	NoExport  bool
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Dataset != "" {
		c.Dataset.Name = o.Dataset
	}
	if o.DataDir != "" {
		c.Dataset.DataDir = o.DataDir
	}
	if o.Examples > 0 {
		c.Dataset.Examples = o.Examples
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Dataset.BatchSize = o.BatchSize
	}
	if o.LR > 0 {
		c.Optimizer.LR = float32(o.LR)
	}
	if o.Seed != 0 {
		c.Dataset.Seed = o.Seed
		c.Model.Seed = o.Seed
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.NoExport {
		c.Export.Enabled = false
	}
}

// Validate verifies the config is runnable. Model errors keep their
// *model.ConfigError type.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Dataset.Name == "" {
		return errors.New("dataset.name must be set")
	}
	if c.Dataset.TrainSplit == "" {
		return errors.New("dataset.train_split must be set")
	}
	for _, s := range []struct{ name, split string }{
		{"train_split", c.Dataset.TrainSplit},
		{"val_split", c.Dataset.ValSplit},
		{"test_split", c.Dataset.TestSplit},
	} {
		if s.split == "" {
			continue
		}
		if _, err := dataset.ParseSplit(s.split); err != nil {
			return fmt.Errorf("dataset.%s: %w", s.name, err)
		}
	}
	if c.Dataset.BatchSize <= 0 {
		return fmt.Errorf("dataset.batch_size must be > 0 (got %d)", c.Dataset.BatchSize)
	}
	if c.Dataset.ShuffleBuffer < 0 || c.Dataset.Prefetch < 0 {
		return errors.New("dataset.shuffle_buffer and dataset.prefetch must be >= 0")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	switch strings.ToLower(c.Optimizer.Name) {
	case "", "adam", "sgd":
	default:
		return fmt.Errorf("optimizer.name: unknown optimizer %q", c.Optimizer.Name)
	}
	if c.Optimizer.LR <= 0 {
		return fmt.Errorf("optimizer.lr must be > 0 (got %v)", c.Optimizer.LR)
	}
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if c.ReduceLR != nil {
		if _, err := train.NewReduceLROnPlateau(*c.ReduceLR); err != nil {
			return fmt.Errorf("reduce_lr_on_plateau: %w", err)
		}
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Resolve validates c, fixes OutputDir to an absolute path and creates the
// directory. The returned Config is a copy; c is not modified.
func (c *Config) Resolve() (*Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := *c
	dir := out.OutputDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve output dir: %w", err)
		}
		dir = filepath.Join(filepath.Dir(wd), OutputDirName)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out.OutputDir = dir
	return &out, nil
}

// Path joins name onto the output directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.OutputDir, name)
}

// NewLogger builds the zap logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
