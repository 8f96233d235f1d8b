package operators

import (
	"fmt"
	"sort"

	"github.com/jonGuti13/qonnx2mdc/internal/parallel"
	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// Context carries execution settings for operators.
type Context struct {
	Parallel parallel.Config
}

// DefaultContext returns a context using the kernel worker pool.
func DefaultContext() *Context {
	return &Context{Parallel: parallel.KernelConfig()}
}

// OpID names an operator within its domain.
type OpID struct {
	Domain string
	OpType string
}

func (id OpID) String() string {
	if id.Domain == DomainONNX {
		return id.OpType
	}
	return id.Domain + "." + id.OpType
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[OpID]OpHandler
}

// NewRegistry creates a new operator registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[OpID]OpHandler),
	}

	r.registerMathOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerConvOps()
	r.registerQONNXOps()

	return r
}

func normalizeDomain(domain string) string {
	if domain == "ai.onnx" {
		return DomainONNX
	}
	return domain
}

// Register adds an operator handler, replacing any existing one.
func (r *Registry) Register(domain, opType string, handler OpHandler) {
	r.handlers[OpID{normalizeDomain(domain), opType}] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(domain, opType string) (OpHandler, bool) {
	h, ok := r.handlers[OpID{normalizeDomain(domain), opType}]
	return h, ok
}

// Supports reports whether the operator is registered.
func (r *Registry) Supports(domain, opType string) bool {
	_, ok := r.Get(domain, opType)
	return ok
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	handler, ok := r.Get(node.Domain, node.OpType)
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", OpID{node.Domain, node.OpType})
	}
	if ctx == nil {
		ctx = DefaultContext()
	}
	return handler(ctx, node, inputs)
}

// SupportedOps returns all registered operators, sorted by domain then type.
func (r *Registry) SupportedOps() []OpID {
	ops := make([]OpID, 0, len(r.handlers))
	for id := range r.handlers {
		ops = append(ops, id)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Domain != ops[j].Domain {
			return ops[i].Domain < ops[j].Domain
		}
		return ops[i].OpType < ops[j].OpType
	})
	return ops
}

func expectInputs(op string, inputs []*tensor.Tensor, minN, maxN int) error {
	if len(inputs) < minN || len(inputs) > maxN {
		if minN == maxN {
			return fmt.Errorf("%s requires %d inputs, got %d", op, minN, len(inputs))
		}
		return fmt.Errorf("%s requires %d-%d inputs, got %d", op, minN, maxN, len(inputs))
	}
	for i := 0; i < minN; i++ {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is missing", op, i)
		}
	}
	return nil
}

func one(t *tensor.Tensor) []*tensor.Tensor {
	return []*tensor.Tensor{t}
}
