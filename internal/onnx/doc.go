// Package onnx exports trained quantized networks to QONNX and reads them back.
//
// QONNX is ONNX opset 11 plus the custom domain qonnx.custom_op.general,
// which adds the Quant, BipolarQuant and Trunc operators. Exported graphs
// keep float weights as initializers and express every fixed-point grid as
// an explicit quantization node, so tools such as FINN or hls4ml can
// recover bit widths without framework-specific metadata.
//
// Key components:
//   - Convert/Export: nn.Model → ModelProto → .onnx file (atomic write)
//   - Marshal/Parse: protobuf encoding built on protowire
//   - Load/Model: reference interpreter executing a parsed graph
//   - Info: op counts and versions for inspection
//
// Example usage:
//
//	if err := onnx.Export(model, "qonnx_model.onnx"); err != nil {
//	    return err
//	}
//	info, err := onnx.GetModelInfo("qonnx_model.onnx")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(info.QuantNodes()) // 5 for the default network
package onnx
