package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// Tanh-approximation GELU coefficients.
const (
	geluCubicCoeff  = 0.044715
	geluSqrt2OverPi = 0.79788456080286535587989211986876
)

// gelu10Range bounds GELU activations in post-training int8 builds, after
// the range study in http://arxiv.org/abs/2004.09602.
const gelu10Range = 10

// scalarConst emits a rank-5 broadcastable scalar constant.
func scalarConst(g *graph.Graph, name string, v float32) (*graph.TensorRef, error) {
	t, err := tensor.FromFloat32(name, tensor.Shape{1, 1, 1, 1, 1}, []float32{v})
	if err != nil {
		return nil, err
	}
	return g.AddConstant(t).Output(0), nil
}

// buildGELU expands the tanh-approximation GELU into elementwise nodes:
// 0.5 * x * (1 + tanh(sqrt(2/pi) * (x + 0.044715 * x^3))).
func buildGELU(g *graph.Graph, bc *graph.BuildContext, prefix string, x *graph.TensorRef) (*graph.Node, error) {
	pow3, err := scalarConst(g, bc.TensorName(prefix, "gelu_pow"), 3)
	if err != nil {
		return nil, err
	}
	coeff, err := scalarConst(g, bc.TensorName(prefix, "gelu_coeff"), geluCubicCoeff)
	if err != nil {
		return nil, err
	}
	sqrt2pi, err := scalarConst(g, bc.TensorName(prefix, "gelu_sqrt"), geluSqrt2OverPi)
	if err != nil {
		return nil, err
	}
	one, err := scalarConst(g, bc.TensorName(prefix, "gelu_one"), 1)
	if err != nil {
		return nil, err
	}
	half, err := scalarConst(g, bc.TensorName(prefix, "gelu_half"), 0.5)
	if err != nil {
		return nil, err
	}

	xPow, err := g.AddElementwise(graph.EltPow, x, pow3)
	if err != nil {
		return nil, err
	}
	xMul, err := g.AddElementwise(graph.EltProd, xPow.Output(0), coeff)
	if err != nil {
		return nil, err
	}
	xAdd, err := g.AddElementwise(graph.EltSum, x, xMul.Output(0))
	if err != nil {
		return nil, err
	}
	xSqrt, err := g.AddElementwise(graph.EltProd, xAdd.Output(0), sqrt2pi)
	if err != nil {
		return nil, err
	}
	xTanh := g.AddActivation(graph.ActTanh, xSqrt.Output(0))
	xOne, err := g.AddElementwise(graph.EltSum, xTanh.Output(0), one)
	if err != nil {
		return nil, err
	}
	cdf, err := g.AddElementwise(graph.EltProd, xOne.Output(0), half)
	if err != nil {
		return nil, err
	}
	gelu, err := g.AddElementwise(graph.EltProd, cdf.Output(0), x)
	if err != nil {
		return nil, err
	}
	bc.NameOutput(gelu, prefix, "gelu", 0)
	return gelu, nil
}

// buildFeedForward emits the intermediate dense + GELU + output dense chain.
// The returned bias is non-nil when the output projection left its bias for
// the following skip-layernorm to fold in.
func buildFeedForward(g *graph.Graph, f graph.OperatorFactory, bc *graph.BuildContext,
	cfg *config.Model, ns *weights.Namespace, prefix string, input *graph.TensorRef) (*graph.TensorRef, *tensor.Tensor, error) {

	hidden, err := graph.HiddenDim(input)
	if err != nil {
		return nil, nil, err
	}

	midMode := graph.DenseFC
	midKernel, err := ns.Get(prefix + weights.WMid)
	if cfg.UseInt8 {
		// The convolution form consumes the transposed orientation; the
		// fully-connected form the raw one.
		midMode = graph.DenseConv
		midKernel, err = ns.Transposed(prefix + weights.WMid)
	}
	if err != nil {
		return nil, nil, err
	}
	midBias, err := ns.Get(prefix + weights.BMid)
	if err != nil {
		return nil, nil, err
	}
	mid, err := f.CreateDenseProjection(g, graph.DenseParams{
		OutChannels: cfg.IntermediateSize,
		Kernel:      midKernel,
		Bias:        midBias,
		Mode:        midMode,
	}, input)
	if err != nil {
		return nil, nil, fmt.Errorf("%sintermediate projection: %w", prefix, err)
	}

	gelu, err := buildGELU(g, bc, prefix, mid.Output(0))
	if err != nil {
		return nil, nil, err
	}
	if cfg.UseInt8 {
		dr := float32(gelu10Range)
		if cfg.UseQAT {
			dr, err = ns.Amax(prefix + amaxDenseIn)
			if err != nil {
				return nil, nil, err
			}
		}
		if err := gelu.Output(0).SetDynamicRange(dr); err != nil {
			return nil, nil, err
		}
	}

	outBias, err := ns.Get(prefix + weights.BLayerOut)
	if err != nil {
		return nil, nil, err
	}
	var out *graph.Node
	var foldBias *tensor.Tensor
	if cfg.UseInt8 && !cfg.UseFC2Gemm {
		kernel, err := ns.Transposed(prefix + weights.WLayerOut)
		if err != nil {
			return nil, nil, err
		}
		p := graph.DenseParams{
			OutChannels: hidden,
			Kernel:      kernel,
			Bias:        outBias,
			Mode:        graph.DenseConv,
		}
		if !cfg.UseInt8SkipLN {
			p.ForceOutputType = dataTypePtr(denseComputeType(cfg))
		}
		out, err = f.CreateDenseProjection(g, p, gelu.Output(0))
		if err != nil {
			return nil, nil, fmt.Errorf("%soutput projection: %w", prefix, err)
		}
	} else {
		kernel, err := ns.Get(prefix + weights.WLayerOut)
		if err != nil {
			return nil, nil, err
		}
		out, err = f.CreateDenseProjection(g, graph.DenseParams{
			OutChannels:     hidden,
			Kernel:          kernel,
			Mode:            graph.DenseCustom,
			ForceOutputType: dataTypePtr(denseComputeType(cfg)),
		}, gelu.Output(0))
		if err != nil {
			return nil, nil, fmt.Errorf("%soutput projection: %w", prefix, err)
		}
		foldBias = outBias
	}
	if cfg.UseQAT {
		dr, err := ns.Amax(prefix + amaxOutputAdd)
		if err != nil {
			return nil, nil, err
		}
		if err := out.Output(0).SetDynamicRange(dr); err != nil {
			return nil, nil, err
		}
	}
	bc.NameOutput(out, prefix+"output_", "dense", 0)
	return out.Output(0), foldBias, nil
}
