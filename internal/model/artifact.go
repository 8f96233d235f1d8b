package model

import (
	"encoding/json"
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/nn"
	"github.com/jonGuti13/qonnx2mdc/internal/serialization"
)

// FileName is the artifact name inside the output directory.
const FileName = "model.qmdl"

// Save writes the model's weights and cfg to path as a .qmdl file.
func Save(path string, m *nn.Model, cfg Config, training *serialization.TrainingMeta, runID string) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := serialization.Header{
		ModelType: ModelType,
		RunID:     runID,
		Config:    cfgJSON,
		Training:  training,
	}
	if err := serialization.WriteFile(path, m.StateDict(), header); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// Artifact is a model restored from disk.
type Artifact struct {
	Model  *nn.Model
	Config Config
	Header serialization.Header
}

// Load reads a .qmdl file, rebuilds the network from its stored config and
// loads the weights.
func Load(path string) (*Artifact, error) {
	f, err := serialization.ReadFile(path, serialization.ReaderOptions{})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if f.Header.ModelType != ModelType {
		return nil, fmt.Errorf("load model: %s holds a %q model, expected %q", path, f.Header.ModelType, ModelType)
	}
	var cfg Config
	if err := json.Unmarshal(f.Header.Config, &cfg); err != nil {
		return nil, fmt.Errorf("load model: config: %w", err)
	}
	m, err := Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if err := m.LoadStateDict(f.Tensors); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Artifact{Model: m, Config: cfg, Header: f.Header}, nil
}
