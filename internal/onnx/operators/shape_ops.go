package operators

import (
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register(DomainONNX, "Transpose", handleTranspose)
	r.Register(DomainONNX, "Flatten", handleFlatten)
	r.Register(DomainONNX, "Reshape", handleReshape)
	r.Register(DomainONNX, "Identity", handleIdentity)
}

func handleTranspose(_ *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("transpose", inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	s := x.Shape()
	rank := len(s)

	// ONNX default reverses the axes.
	def := make([]int, rank)
	for i := range def {
		def[i] = rank - 1 - i
	}
	perm := intsOr(node, "perm", def)
	if len(perm) != rank {
		return nil, fmt.Errorf("transpose: perm %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	outShape := make([]int, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("transpose: invalid perm %v", perm)
		}
		seen[p] = true
		outShape[i] = s[p]
	}

	strides := make([]int, rank)
	acc := 1
	for i := rank - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}

	out := tensor.Zeros(outShape...)
	src, dst := x.Data(), out.Data()
	idx := make([]int, rank)
	for o := range dst {
		off := 0
		for i, p := range perm {
			off += idx[i] * strides[p]
		}
		dst[o] = src[off]
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outShape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return one(out), nil
}

func handleFlatten(_ *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	s := inputs[0].Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(s)
	}
	if axis < 0 || axis > len(s) {
		return nil, fmt.Errorf("flatten: axis %d out of range for %v", axis, s)
	}
	outer := s[:axis].NumElements()
	inner := s[axis:].NumElements()
	return one(inputs[0].Clone().Reshape(outer, inner)), nil
}

// handleReshape takes the target shape as its second input; 0 copies the
// input dim and one -1 is inferred.
func handleReshape(_ *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("reshape", inputs, 2, 2); err != nil {
		return nil, err
	}
	x, target := inputs[0], inputs[1].Data()
	s := x.Shape()
	shape := make([]int, len(target))
	infer := -1
	known := 1
	for i, v := range target {
		d := int(v)
		switch {
		case d == 0 && i < len(s):
			d = s[i]
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: more than one -1 in %v", target)
			}
			infer = i
			continue
		case d <= 0:
			return nil, fmt.Errorf("reshape: invalid dim %d", d)
		}
		shape[i] = d
		known *= d
	}
	if infer >= 0 {
		if known == 0 || x.Len()%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer dim for %v into %v", s, target)
		}
		shape[infer] = x.Len() / known
		known *= shape[infer]
	}
	if known != x.Len() {
		return nil, fmt.Errorf("reshape: %v has %d elements, target %v has %d", s, x.Len(), shape, known)
	}
	return one(x.Clone().Reshape(shape...)), nil
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("identity", inputs, 1, 1); err != nil {
		return nil, err
	}
	return one(inputs[0]), nil
}
