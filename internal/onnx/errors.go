package onnx

import (
	"errors"
	"fmt"
)

// ErrUnsupported marks layers, quantizers or operators the exporter cannot
// express in the QONNX operator set.
var ErrUnsupported = errors.New("not representable in QONNX")

// ConversionError reports which layer stopped an export.
type ConversionError struct {
	Layer string // layer name
	Kind  string // layer kind, e.g. "QConv2D"
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("onnx: convert layer %q (%s): %v", e.Layer, e.Kind, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
