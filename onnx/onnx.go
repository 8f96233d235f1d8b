// Package onnx is the public entry point for QONNX files written by qonnx2mdc.
//
// Downstream tools (hardware mappers, verification benches) use it to
// inspect an exported graph and to run it on the CPU reference interpreter,
// which executes the QONNX Quant, BipolarQuant and Trunc operators with the
// same arithmetic the training engine uses.
//
// # Example Usage
//
//	model, err := onnx.Load("Mnist_Training/qonnx_model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// One 28x28 grayscale image, channels last, values in [0, 1].
//	out, err := model.Forward(onnx.Tensor{Shape: []int{1, 28, 28, 1}, Data: pixels})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Shape, out.Data) // [1 10] class scores
//
// A trained .qmdl artifact can be converted without rerunning training:
//
//	err := onnx.ExportFile("Mnist_Training/model.qmdl", "qcnn.onnx")
//
// Use [ListSupportedOps] to get the complete list of supported operators.
package onnx

import (
	"github.com/jonGuti13/qonnx2mdc/internal/model"
	internalonnx "github.com/jonGuti13/qonnx2mdc/internal/onnx"
)

// LoadOptions configures model loading.
type LoadOptions = internalonnx.LoadOptions

// DefaultLoadOptions returns the default options for loading models.
//
// Strict mode is enabled: graphs using operators outside the supported set
// are rejected at load time instead of failing during Forward.
func DefaultLoadOptions() LoadOptions {
	return internalonnx.DefaultLoadOptions()
}

// Load loads a QONNX model from a file path and prepares it for execution.
func Load(path string, opts ...LoadOptions) (Model, error) {
	m, err := internalonnx.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	return &runtime{m: m}, nil
}

// LoadFromBytes loads a QONNX model from raw bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (Model, error) {
	m, err := internalonnx.LoadFromBytes(data, opts...)
	if err != nil {
		return nil, err
	}
	return &runtime{m: m}, nil
}

// ModelInfo summarizes a model file without preparing it for execution.
type ModelInfo = internalonnx.ModelInfo

// GetModelInfo reads a model file and returns its summary.
//
// Example:
//
//	info, err := onnx.GetModelInfo("qonnx_model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d quantizers, opset %d\n", info.QuantNodes(), info.OpsetVersion)
func GetModelInfo(path string) (*ModelInfo, error) {
	return internalonnx.GetModelInfo(path)
}

// ListSupportedOps returns the supported operators. Standard operators are
// listed by name, QONNX operators with their domain prefix.
func ListSupportedOps() []string {
	ids := internalonnx.ListSupportedOps()
	ops := make([]string, len(ids))
	for i, id := range ids {
		ops[i] = id.String()
	}
	return ops
}

// ExportFile converts a trained .qmdl artifact to a QONNX file. The file is
// written atomically.
func ExportFile(modelPath, onnxPath string) error {
	art, err := model.Load(modelPath)
	if err != nil {
		return err
	}
	opts := internalonnx.DefaultExportOptions()
	opts.Metadata = map[string]string{"run_id": art.Header.RunID}
	return internalonnx.Export(art.Model, onnxPath, opts)
}
