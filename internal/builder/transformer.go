package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// buildTransformerLayer emits one encoder layer: attention, attention-output
// projection, residual layernorm, feed-forward, residual layernorm. prefix
// is the layer's parameter prefix, e.g. "l0_".
func buildTransformerLayer(g *graph.Graph, f graph.OperatorFactory, bc *graph.BuildContext,
	cfg *config.Model, ns *weights.Namespace, prefix string, input, mask *graph.TensorRef) (*graph.TensorRef, error) {

	hidden, err := graph.HiddenDim(input)
	if err != nil {
		return nil, err
	}

	if cfg.UseQAT {
		dr, err := layerInputRange(ns, prefix)
		if err != nil {
			return nil, err
		}
		if err := input.SetDynamicRange(dr); err != nil {
			return nil, err
		}
	}

	attnOut, err := buildAttention(g, f, bc, cfg, ns, prefix+"attention_", input, mask)
	if err != nil {
		return nil, err
	}

	attnBias, err := ns.Get(prefix + weights.BAttnOut)
	if err != nil {
		return nil, err
	}
	var attnFC *graph.Node
	var foldBias *tensor.Tensor
	if cfg.UseInt8 {
		kernel, err := ns.Transposed(prefix + weights.WAttnOut)
		if err != nil {
			return nil, err
		}
		p := graph.DenseParams{
			OutChannels: hidden,
			Kernel:      kernel,
			Bias:        attnBias,
			Mode:        graph.DenseConv,
		}
		if !cfg.UseInt8SkipLN {
			p.ForceOutputType = dataTypePtr(denseComputeType(cfg))
		}
		attnFC, err = f.CreateDenseProjection(g, p, attnOut)
		if err != nil {
			return nil, fmt.Errorf("%sattention output projection: %w", prefix, err)
		}
		if cfg.UseQAT {
			dr, err := ns.Amax(prefix + amaxAttnAdd)
			if err != nil {
				return nil, err
			}
			if err := attnFC.Output(0).SetDynamicRange(dr); err != nil {
				return nil, err
			}
		}
	} else {
		kernel, err := ns.Get(prefix + weights.WAttnOut)
		if err != nil {
			return nil, err
		}
		attnFC, err = f.CreateDenseProjection(g, graph.DenseParams{
			OutChannels:     hidden,
			Kernel:          kernel,
			Mode:            graph.DenseCustom,
			ForceOutputType: dataTypePtr(denseComputeType(cfg)),
		}, attnOut)
		if err != nil {
			return nil, fmt.Errorf("%sattention output projection: %w", prefix, err)
		}
		foldBias = attnBias
	}

	skip1, err := buildSkipLayerNorm(g, f, cfg, ns, prefix+"attention_output_layernorm_",
		attnFC.Output(0), input, foldBias)
	if err != nil {
		return nil, err
	}
	if cfg.UseQAT {
		dr, err := ns.Amax(prefix + amaxInterIn)
		if err != nil {
			return nil, err
		}
		if err := skip1.Output(0).SetDynamicRange(dr); err != nil {
			return nil, err
		}
	}
	attnLN := skip1.Output(0)

	ffnOut, ffnBias, err := buildFeedForward(g, f, bc, cfg, ns, prefix, attnLN)
	if err != nil {
		return nil, err
	}

	out, err := buildSkipLayerNorm(g, f, cfg, ns, prefix+"output_layernorm_", ffnOut, attnLN, ffnBias)
	if err != nil {
		return nil, err
	}
	bc.NameOutput(out, prefix+"output_", "reshape", 0)
	return out.Output(0), nil
}

// buildEncoder stacks the configured number of transformer layers, threading
// the hidden state through.
func buildEncoder(g *graph.Graph, f graph.OperatorFactory, bc *graph.BuildContext,
	cfg *config.Model, ns *weights.Namespace, input, mask *graph.TensorRef) (*graph.TensorRef, error) {

	state := input
	for layer := 0; layer < cfg.NumHiddenLayers; layer++ {
		prefix := fmt.Sprintf("l%d_", layer)
		out, err := buildTransformerLayer(g, f, bc, cfg, ns, prefix, state, mask)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", layer, err)
		}
		state = out
	}

	if cfg.UseQAT {
		dr, err := ns.Amax(weights.EncoderFinalQ)
		if err != nil {
			return nil, err
		}
		if err := state.SetDynamicRange(dr); err != nil {
			return nil, err
		}
	}
	return state, nil
}
