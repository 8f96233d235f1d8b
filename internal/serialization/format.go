package serialization

import (
	"encoding/json"
	"time"
)

// Format constants.
const (
	MagicBytes      = "QMDL"
	FormatVersion   = 1
	HeaderAlignment = 64   // Align tensor data to 64 bytes
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
)

// DTypeFloat32 is the only tensor data type the format stores.
const DTypeFloat32 = "float32"

// Flags for the .qmdl format.
const (
	FlagHasTraining uint32 = 1 << 0 // bit 0: training metadata included
	FlagHasMetadata uint32 = 1 << 1 // bit 1: custom metadata included
)

// Header represents the JSON header in a .qmdl file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`         // Tool and version that wrote the file
	ModelType     string            `json:"model_type"`       // Architecture family, e.g. "qcnn"
	RunID         string            `json:"run_id"`           // UUID of the training run
	CreatedAt     time.Time         `json:"created_at"`       // When the file was created
	Config        json.RawMessage   `json:"config,omitempty"` // Architecture config to rebuild the model
	Tensors       []TensorMeta      `json:"tensors"`          // Tensor table
	Training      *TrainingMeta     `json:"training,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TrainingMeta summarizes the run that produced the weights.
type TrainingMeta struct {
	Epochs       int     `json:"epochs"`        // Epochs actually run
	BestEpoch    int     `json:"best_epoch"`    // Epoch whose weights were kept (1-based)
	Loss         float64 `json:"loss"`          // Training loss at BestEpoch
	Accuracy     float64 `json:"accuracy"`      // Training accuracy at BestEpoch
	ValLoss      float64 `json:"val_loss"`      // Validation loss at BestEpoch
	ValAccuracy  float64 `json:"val_accuracy"`  // Validation accuracy at BestEpoch
	TestAccuracy float64 `json:"test_accuracy"` // Test-split accuracy, if evaluated
	Optimizer    string  `json:"optimizer"`     // Optimizer name
	LR           float64 `json:"lr"`            // Final learning rate
	StoppedEarly bool    `json:"stopped_early"`
}

// TensorMeta describes a tensor in the .qmdl file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "conv1.kernel")
	DType  string `json:"dtype"`  // Always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section (bytes from start of tensor data)
	Size   int64  `json:"size"`   // Size in bytes
}

// dataOffset returns where the data section starts for a JSON header of n bytes.
func dataOffset(n int64) int64 {
	pos := int64(FixedHeaderSize) + n
	return pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
}
