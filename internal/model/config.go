// Package model builds the fixed-topology quantized CNN and persists it.
//
// The topology never changes; the five quantization specs are the only
// knobs, so precision sweeps compare like with like:
//
//	input → QConv2D(conv1) → QActivation(act1) → MaxPool2D
//	      → QConv2D(conv2) → QActivation(act2) → MaxPool2D
//	      → Flatten → QDense(dense) → Sigmoid
package model

import (
	"errors"
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/quant"
)

// Fixed topology constants.
const (
	DefaultFilters    = 32
	DefaultKernelSize = 3
	PoolSize          = 2
	ModelType         = "qcnn"
)

// Config describes one instance of the network.
type Config struct {
	InputShape [3]int     `yaml:"input_shape" json:"input_shape"` // H, W, C
	NumClasses int        `yaml:"num_classes" json:"num_classes"`
	Filters    int        `yaml:"filters" json:"filters"`
	KernelSize int        `yaml:"kernel_size" json:"kernel_size"`
	Conv1      quant.Spec `yaml:"conv1" json:"conv1"`
	Conv2      quant.Spec `yaml:"conv2" json:"conv2"`
	Dense      quant.Spec `yaml:"dense" json:"dense"`
	Act1       quant.Spec `yaml:"act1" json:"act1"`
	Act2       quant.Spec `yaml:"act2" json:"act2"`
	Seed       int64      `yaml:"seed" json:"seed"` // weight initialization
}

// DefaultConfig returns the MNIST configuration with (8,4) everywhere.
func DefaultConfig() Config {
	s := quant.Spec{Bits: 8, Integer: 4}
	return Config{
		InputShape: [3]int{28, 28, 1},
		NumClasses: 10,
		Filters:    DefaultFilters,
		KernelSize: DefaultKernelSize,
		Conv1:      s,
		Conv2:      s,
		Dense:      s,
		Act1:       s,
		Act2:       s,
		Seed:       1,
	}
}

// ConfigError reports an invalid model configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("model config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Specs returns the five quantization specs keyed by layer name.
func (c Config) Specs() map[string]quant.Spec {
	return map[string]quant.Spec{
		"conv1": c.Conv1,
		"act1":  c.Act1,
		"conv2": c.Conv2,
		"act2":  c.Act2,
		"dense": c.Dense,
	}
}

// Validate checks every field. Zero Filters/KernelSize take the defaults.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		spec quant.Spec
	}{
		{"conv1", c.Conv1}, {"act1", c.Act1},
		{"conv2", c.Conv2}, {"act2", c.Act2},
		{"dense", c.Dense},
	} {
		if err := f.spec.Validate(); err != nil {
			return &ConfigError{Field: f.name, Err: err}
		}
	}

	h, w, ch := c.InputShape[0], c.InputShape[1], c.InputShape[2]
	if h <= 0 || w <= 0 || ch <= 0 {
		return &ConfigError{Field: "input_shape", Err: fmt.Errorf("dimensions %v must be positive", c.InputShape)}
	}
	// Two 2x2 pools must leave at least one pixel.
	if minSide := PoolSize * PoolSize; h < minSide || w < minSide {
		return &ConfigError{Field: "input_shape", Err: fmt.Errorf("%dx%d is smaller than %dx%d", h, w, minSide, minSide)}
	}
	if c.NumClasses < 1 {
		return &ConfigError{Field: "num_classes", Err: errors.New("must be at least 1")}
	}
	if c.Filters < 0 {
		return &ConfigError{Field: "filters", Err: fmt.Errorf("%d must be positive", c.Filters)}
	}
	if c.KernelSize < 0 || c.KernelSize > h || c.KernelSize > w {
		return &ConfigError{Field: "kernel_size", Err: fmt.Errorf("%d does not fit a %dx%d input", c.KernelSize, h, w)}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Filters == 0 {
		c.Filters = DefaultFilters
	}
	if c.KernelSize == 0 {
		c.KernelSize = DefaultKernelSize
	}
	return c
}
