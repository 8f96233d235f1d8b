// Package operators implements the ONNX and QONNX operators needed to
// execute exported quantized CNN graphs on internal/tensor.
//
// The package provides a registry of operator handlers keyed by
// (domain, op_type). Each handler validates inputs and attributes, then
// computes its outputs on the CPU.
//
// Supported operators:
//   - Standard domain: Add, MatMul, Relu, Sigmoid, Transpose, Flatten,
//     Reshape, Identity, Conv, MaxPool
//   - QONNX domain (qonnx.custom_op.general): Quant, BipolarQuant, Trunc
package operators
