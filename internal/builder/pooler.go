package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// buildPooler emits the pooler head: the first sequence position sliced out,
// projected back to hidden size and passed through tanh.
func buildPooler(g *graph.Graph, f graph.OperatorFactory, ns *weights.Namespace, input *graph.TensorRef) (*graph.TensorRef, error) {
	hidden, err := graph.HiddenDim(input)
	if err != nil {
		return nil, err
	}
	shape := input.Shape()

	slice, err := g.AddSlice(input,
		tensor.Shape{0, 0, 0, 0, 0},
		tensor.Shape{1, shape[1], hidden, 1, 1},
		tensor.Shape{1, 1, 1, 1, 1})
	if err != nil {
		return nil, fmt.Errorf("pooler slice: %w", err)
	}

	kernel, err := ns.Get(weights.PoolerWeight)
	if err != nil {
		return nil, err
	}
	bias, err := ns.Get(weights.PoolerBias)
	if err != nil {
		return nil, err
	}
	dense, err := f.CreateDenseProjection(g, graph.DenseParams{
		OutChannels: hidden,
		Kernel:      kernel,
		Bias:        bias,
		Mode:        graph.DenseFC,
	}, slice.Output(0))
	if err != nil {
		return nil, fmt.Errorf("pooler projection: %w", err)
	}

	act := g.AddActivation(graph.ActTanh, dense.Output(0))
	return act.Output(0), nil
}
