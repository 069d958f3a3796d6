package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/weights"
)

// buildAttention emits one attention block: the fused QKV dense projection
// followed by the fused multi-head context operator. prefix addresses the
// layer's attention parameters, e.g. "l0_attention_". mask may be nil.
func buildAttention(g *graph.Graph, f graph.OperatorFactory, bc *graph.BuildContext,
	cfg *config.Model, ns *weights.Namespace, prefix string, input, mask *graph.TensorRef) (*graph.TensorRef, error) {

	hidden, err := graph.HiddenDim(input)
	if err != nil {
		return nil, err
	}

	// The fused QKV kernel is stored pre-permuted in the projection
	// orientation, so both dense modes consume it directly.
	kernel, err := ns.Get(prefix + weights.WQKV)
	if err != nil {
		return nil, err
	}
	bias, err := ns.Get(prefix + weights.BQKV)
	if err != nil {
		return nil, err
	}

	mode := graph.DenseFC
	if cfg.UseInt8 {
		mode = graph.DenseConv
	}
	mult, err := f.CreateDenseProjection(g, graph.DenseParams{
		OutChannels: 3 * hidden,
		Kernel:      kernel,
		Bias:        bias,
		Mode:        mode,
	}, input)
	if err != nil {
		return nil, fmt.Errorf("%sqkv projection: %w", prefix, err)
	}
	if cfg.UseQAT {
		dr, err := attentionProjectionRange(ns, prefix)
		if err != nil {
			return nil, err
		}
		if err := mult.Output(0).SetDynamicRange(dr); err != nil {
			return nil, err
		}
	}
	bc.NameOutput(mult, prefix, "qkv_mult", 0)

	params := graph.FusedAttentionParams{
		HiddenSize: hidden,
		NumHeads:   cfg.NumAttentionHeads,
		HasMask:    mask != nil,
		TypeID:     mhaType(cfg),
	}
	if cfg.UseQAT {
		dq, err := attentionDQProbs(ns, prefix)
		if err != nil {
			return nil, err
		}
		params.DQProbs = dq
	}

	inputs := []*graph.TensorRef{mult.Output(0)}
	if mask != nil {
		inputs = append(inputs, mask)
	}
	ctxNode, err := f.CreateFusedAttention(g, params, inputs)
	if err != nil {
		return nil, fmt.Errorf("%scontext: %w", prefix, err)
	}
	if cfg.UseQAT {
		dr, err := ns.Amax(prefix + amaxDenseIn)
		if err != nil {
			return nil, err
		}
		if err := ctxNode.Output(0).SetDynamicRange(dr); err != nil {
			return nil, err
		}
	}
	bc.NameOutput(ctxNode, prefix, "context_layer", 0)
	return ctxNode.Output(0), nil
}
