// Package graph holds the inference graph under construction: nodes are
// appended in strict topological order by a single builder goroutine and are
// immutable once created. The finished graph is handed whole to a
// compilation backend.
package graph

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/tensor"
)

// DataType is the numeric precision of a graph tensor.
type DataType int

const (
	Float32 DataType = iota
	Float16
	Int8
	Int32
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "f32"
	case Float16:
		return "f16"
	case Int8:
		return "i8"
	case Int32:
		return "i32"
	default:
		return fmt.Sprintf("datatype(%d)", int(d))
	}
}

// DynamicRange is the symmetric [-Max, Max] quantization interval of one
// graph tensor.
type DynamicRange struct {
	Max float32
}

// TensorRef is one value flowing through the graph: a graph input or a node
// output. Shape dims may be -1 for the dynamic batch dimension.
type TensorRef struct {
	name     string
	shape    tensor.Shape
	dtype    DataType
	producer *Node
	dynRange *DynamicRange
}

// Name returns the tensor's graph-unique name.
func (t *TensorRef) Name() string { return t.name }

// SetName renames the tensor; builders name node outputs through the build
// context so submodel prefixes stay consistent.
func (t *TensorRef) SetName(name string) { t.name = name }

// Shape returns the tensor's (possibly dynamic) shape.
func (t *TensorRef) Shape() tensor.Shape { return t.shape.Clone() }

// DType returns the tensor's precision.
func (t *TensorRef) DType() DataType { return t.dtype }

// Producer returns the node that computes this tensor, or nil for inputs.
func (t *TensorRef) Producer() *Node { return t.producer }

// DynamicRange returns the quantization range, or nil when unset.
func (t *TensorRef) DynamicRange() *DynamicRange { return t.dynRange }

// SetDynamicRange sets the symmetric quantization interval. Each range is
// written exactly once; a second write reports an error.
func (t *TensorRef) SetDynamicRange(max float32) error {
	if t.dynRange != nil {
		return fmt.Errorf("tensor %s: dynamic range already set", t.name)
	}
	t.dynRange = &DynamicRange{Max: max}
	return nil
}

// Node is one graph operator. Inputs and outputs are ordered; attributes
// carry operator parameters the backend needs verbatim.
type Node struct {
	Kind  string
	Attrs map[string]any

	inputs  []*TensorRef
	outputs []*TensorRef

	// Weights are parameter tensors consumed directly by the node rather
	// than flowing through graph edges (fused-operator convention).
	Weights []*tensor.Tensor
}

// Input returns the i-th input tensor.
func (n *Node) Input(i int) *TensorRef { return n.inputs[i] }

// NumInputs returns the input count.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Output returns the i-th output tensor.
func (n *Node) Output(i int) *TensorRef { return n.outputs[i] }

// NumOutputs returns the output count.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Graph is the inference graph under construction.
type Graph struct {
	nodes    []*Node
	inputs   []*TensorRef
	outputs  []*TensorRef
	profiles []*Profile
	names    map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{names: make(map[string]bool)}
}

// AddInput declares a graph input. Input names are shared across submodels
// and must be unique.
func (g *Graph) AddInput(name string, dt DataType, shape tensor.Shape) (*TensorRef, error) {
	if g.names[name] {
		return nil, fmt.Errorf("duplicate graph input %q", name)
	}
	g.names[name] = true
	ref := &TensorRef{name: name, shape: shape.Clone(), dtype: dt}
	g.inputs = append(g.inputs, ref)
	return ref, nil
}

// Input returns the i-th declared graph input.
func (g *Graph) Input(i int) *TensorRef { return g.inputs[i] }

// NumInputs returns how many graph inputs are declared.
func (g *Graph) NumInputs() int { return len(g.inputs) }

// MarkOutput marks a tensor as a graph output.
func (g *Graph) MarkOutput(ref *TensorRef) {
	g.outputs = append(g.outputs, ref)
}

// Outputs returns the marked graph outputs.
func (g *Graph) Outputs() []*TensorRef { return g.outputs }

// Nodes returns the nodes in creation (topological) order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// AddProfile appends an optimization profile.
func (g *Graph) AddProfile(p *Profile) { g.profiles = append(g.profiles, p) }

// Profiles returns the declared optimization profiles.
func (g *Graph) Profiles() []*Profile { return g.profiles }

// addNode appends a node whose inputs must already exist in this graph,
// preserving topological order by construction.
func (g *Graph) addNode(kind string, inputs []*TensorRef, outputs []outputSpec, attrs map[string]any) *Node {
	n := &Node{Kind: kind, Attrs: attrs, inputs: inputs}
	for _, os := range outputs {
		ref := &TensorRef{name: os.name, shape: os.shape.Clone(), dtype: os.dtype, producer: n}
		n.outputs = append(n.outputs, ref)
	}
	g.nodes = append(g.nodes, n)
	return n
}

type outputSpec struct {
	name  string
	shape tensor.Shape
	dtype DataType
}

// EncoderShape is the fixed rank-5 (sequence, batch, hidden, 1, 1) layout
// every transformer-stage tensor carries; the trailing unit dims keep fused
// operator inputs uniform.
func EncoderShape(seqLen, batch, hidden int) tensor.Shape {
	return tensor.Shape{seqLen, batch, hidden, 1, 1}
}

// CheckRank5 enforces the transformer-stage rank-5 convention.
func CheckRank5(ref *TensorRef) error {
	if ref.shape.Rank() != 5 {
		return &tensor.ShapeMismatchError{
			Name:   ref.name,
			Detail: fmt.Sprintf("transformer-stage tensor must be rank 5, have %v", ref.shape),
		}
	}
	return nil
}

// HiddenDim returns the hidden size of a rank-5 transformer-stage tensor.
func HiddenDim(ref *TensorRef) (int, error) {
	if err := CheckRank5(ref); err != nil {
		return 0, err
	}
	return ref.shape[2], nil
}
