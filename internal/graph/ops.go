package graph

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/tensor"
)

// Node kinds for the simple (non-fused) operators the builder emits.
const (
	KindConstant    = "constant"
	KindElementwise = "elementwise"
	KindActivation  = "activation"
	KindSlice       = "slice"
	KindConcat      = "concat"
	KindReduce      = "reduce"
	KindReshape     = "reshape"
	KindSoftmax     = "softmax"
)

// EltOp is a binary elementwise operation.
type EltOp string

const (
	EltPow  EltOp = "pow"
	EltProd EltOp = "prod"
	EltSum  EltOp = "sum"
	EltDiv  EltOp = "div"
)

// ActKind is a unary activation.
type ActKind string

const (
	ActTanh ActKind = "tanh"
)

// ReduceOp is a reduction operation.
type ReduceOp string

const (
	ReduceSum ReduceOp = "sum"
)

func (g *Graph) outName(kind string, idx int) string {
	return fmt.Sprintf("%s_%d_out%d", kind, len(g.nodes), idx)
}

// AddConstant creates a constant node carrying one parameter tensor.
func (g *Graph) AddConstant(t *tensor.Tensor) *Node {
	n := g.addNode(KindConstant, nil, []outputSpec{
		{name: g.outName(KindConstant, 0), shape: t.Shape(), dtype: Float32},
	}, nil)
	n.Weights = []*tensor.Tensor{t}
	return n
}

// AddElementwise creates a binary elementwise node with broadcast over unit
// dims, as fused-operator rank-5 constants rely on.
func (g *Graph) AddElementwise(op EltOp, a, b *TensorRef) (*Node, error) {
	shape, err := broadcastShape(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("elementwise %s: %w", op, err)
	}
	return g.addNode(KindElementwise, []*TensorRef{a, b}, []outputSpec{
		{name: g.outName(KindElementwise, 0), shape: shape, dtype: a.DType()},
	}, map[string]any{"op": string(op)}), nil
}

// AddActivation creates a unary activation node.
func (g *Graph) AddActivation(kind ActKind, in *TensorRef) *Node {
	return g.addNode(KindActivation, []*TensorRef{in}, []outputSpec{
		{name: g.outName(KindActivation, 0), shape: in.Shape(), dtype: in.DType()},
	}, map[string]any{"kind": string(kind)})
}

// AddSlice creates a strided slice node; size is the output shape.
func (g *Graph) AddSlice(in *TensorRef, start, size, stride tensor.Shape) (*Node, error) {
	r := in.Shape().Rank()
	if start.Rank() != r || size.Rank() != r || stride.Rank() != r {
		return nil, fmt.Errorf("slice: start/size/stride rank must match input rank %d", r)
	}
	return g.addNode(KindSlice, []*TensorRef{in}, []outputSpec{
		{name: g.outName(KindSlice, 0), shape: size, dtype: in.DType()},
	}, map[string]any{
		"start":  []int(start.Clone()),
		"size":   []int(size.Clone()),
		"stride": []int(stride.Clone()),
	}), nil
}

// AddConcat concatenates tensors along a fixed axis.
func (g *Graph) AddConcat(inputs []*TensorRef, axis int) (*Node, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concat: no inputs")
	}
	shape := inputs[0].Shape()
	if axis < 0 || axis >= shape.Rank() {
		return nil, fmt.Errorf("concat: axis %d out of range for %v", axis, shape)
	}
	total := 0
	for _, in := range inputs {
		s := in.Shape()
		if s.Rank() != shape.Rank() {
			return nil, fmt.Errorf("concat: rank mismatch %v vs %v", shape, s)
		}
		if s[axis] < 0 || total < 0 {
			total = -1
		} else {
			total += s[axis]
		}
	}
	out := shape.Clone()
	out[axis] = total
	return g.addNode(KindConcat, inputs, []outputSpec{
		{name: g.outName(KindConcat, 0), shape: out, dtype: inputs[0].DType()},
	}, map[string]any{"axis": axis}), nil
}

// AddReduce reduces one axis, optionally keeping it as a unit dim.
func (g *Graph) AddReduce(op ReduceOp, in *TensorRef, axis int, keepDims bool) (*Node, error) {
	shape := in.Shape()
	if axis < 0 || axis >= shape.Rank() {
		return nil, fmt.Errorf("reduce %s: axis %d out of range for %v", op, axis, shape)
	}
	var out tensor.Shape
	if keepDims {
		out = shape.Clone()
		out[axis] = 1
	} else {
		out = append(out, shape[:axis]...)
		out = append(out, shape[axis+1:]...)
	}
	return g.addNode(KindReduce, []*TensorRef{in}, []outputSpec{
		{name: g.outName(KindReduce, 0), shape: out, dtype: in.DType()},
	}, map[string]any{"op": string(op), "axis": axis, "keep_dims": keepDims}), nil
}

// AddReshape creates a reshape node to an explicit shape.
func (g *Graph) AddReshape(in *TensorRef, shape tensor.Shape) *Node {
	return g.addNode(KindReshape, []*TensorRef{in}, []outputSpec{
		{name: g.outName(KindReshape, 0), shape: shape.Clone(), dtype: in.DType()},
	}, map[string]any{"shape": []int(shape.Clone())})
}

// AddSoftmax creates a softmax node over the backend's default axis.
func (g *Graph) AddSoftmax(in *TensorRef) *Node {
	return g.addNode(KindSoftmax, []*TensorRef{in}, []outputSpec{
		{name: g.outName(KindSoftmax, 0), shape: in.Shape(), dtype: in.DType()},
	}, nil)
}

// broadcastShape merges two equal-rank shapes where unit dims stretch and
// -1 marks the dynamic batch dimension.
func broadcastShape(a, b tensor.Shape) (tensor.Shape, error) {
	if a.Rank() != b.Rank() {
		return nil, fmt.Errorf("rank mismatch %v vs %v", a, b)
	}
	out := make(tensor.Shape, a.Rank())
	for i := range a {
		switch {
		case a[i] == b[i]:
			out[i] = a[i]
		case a[i] == 1:
			out[i] = b[i]
		case b[i] == 1:
			out[i] = a[i]
		case a[i] == -1 || b[i] == -1:
			out[i] = -1
		default:
			return nil, fmt.Errorf("incompatible dims %v vs %v", a, b)
		}
	}
	return out, nil
}
