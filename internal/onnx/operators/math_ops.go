package operators

import (
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/parallel"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// registerMathOps adds arithmetic operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register(DomainONNX, "Add", handleAdd)
	r.Register(DomainONNX, "MatMul", handleMatMul)
}

// handleAdd supports equal shapes and trailing-suffix broadcasting of
// either operand (e.g. [N,K] + [K]), which covers bias addition.
func handleAdd(_ *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("add", inputs, 2, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if b.Len() > a.Len() {
		a, b = b, a
	}
	if !isSuffix(a.Shape(), b.Shape()) {
		return nil, fmt.Errorf("add: cannot broadcast %v with %v", inputs[0].Shape(), inputs[1].Shape())
	}
	out := a.Clone()
	dst, src := out.Data(), b.Data()
	n := len(src)
	for i := range dst {
		dst[i] += src[i%n]
	}
	return one(out), nil
}

// isSuffix reports whether small's dims are the trailing dims of big,
// ignoring leading ones in small.
func isSuffix(big, small tensor.Shape) bool {
	for len(small) > 0 && small[0] == 1 && len(small) > len(big) {
		small = small[1:]
	}
	if len(small) > len(big) {
		return false
	}
	off := len(big) - len(small)
	for i, d := range small {
		if big[off+i] != d {
			return false
		}
	}
	return true
}

// handleMatMul multiplies [M,K] by [K,N].
func handleMatMul(ctx *Context, _ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("matMul", inputs, 2, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("matMul: only 2D operands supported, got %v and %v", as, bs)
	}
	if as[1] != bs[0] {
		return nil, fmt.Errorf("matMul: inner dimensions differ: %v x %v", as, bs)
	}
	m, k, n := as[0], as[1], bs[1]
	out := tensor.Zeros(m, n)
	ad, bd, od := a.Data(), b.Data(), out.Data()
	parallel.For(m, func(i int) {
		row := od[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := ad[i*k+p]
			if av == 0 {
				continue
			}
			brow := bd[p*n : (p+1)*n]
			for j := range row {
				row[j] += av * brow[j]
			}
		}
	}, ctx.Parallel)
	return one(out), nil
}
