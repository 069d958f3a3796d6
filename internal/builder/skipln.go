package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// buildSkipLayerNorm emits the fused residual-add + layernorm over input and
// skip. lnPrefix addresses the layernorm parameters, e.g.
// "l0_attention_output_layernorm_". bias is an optional dense bias folded
// into the fused operator when the preceding projection left it out.
func buildSkipLayerNorm(g *graph.Graph, f graph.OperatorFactory, cfg *config.Model,
	ns *weights.Namespace, lnPrefix string, input, skip *graph.TensorRef, bias *tensor.Tensor) (*graph.Node, error) {

	hidden, err := graph.HiddenDim(input)
	if err != nil {
		return nil, err
	}
	beta, err := ns.Get(lnPrefix + "beta")
	if err != nil {
		return nil, err
	}
	gamma, err := ns.Get(lnPrefix + "gamma")
	if err != nil {
		return nil, err
	}

	n, err := f.CreateFusedSkipLayerNorm(g, graph.SkipLayerNormParams{
		HiddenSize: hidden,
		Beta:       beta,
		Gamma:      gamma,
		Bias:       bias,
		TypeID:     skipLNType(cfg),
	}, input, skip)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lnPrefix, err)
	}
	return n, nil
}
