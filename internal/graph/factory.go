package graph

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/tensor"
)

// Node kinds for fused operators produced through an OperatorFactory.
const (
	KindFusedEmbedding = "fused_embedding_layernorm"
	KindFusedAttention = "fused_attention"
	KindFusedSkipLN    = "fused_skip_layernorm"
	KindDense          = "dense"
)

// DenseMode selects how a dense projection is realized by the backend.
type DenseMode string

const (
	// DenseConv lowers to a 1x1 convolution, the int8-friendly form.
	DenseConv DenseMode = "conv"
	// DenseFC lowers to a plain fully-connected kernel.
	DenseFC DenseMode = "fc"
	// DenseCustom lowers to the backend's custom FC operator consuming the
	// untransposed kernel orientation.
	DenseCustom DenseMode = "custom"
)

// DenseParams configures a dense projection node.
type DenseParams struct {
	OutChannels int
	Kernel      *tensor.Tensor
	Bias        *tensor.Tensor // nil when the bias is folded elsewhere
	Mode        DenseMode
	// ForceOutputType pins the node's output precision; nil leaves the
	// choice to the backend.
	ForceOutputType *DataType
}

// FusedAttentionParams configures a fused multi-head attention context node.
type FusedAttentionParams struct {
	HiddenSize int
	NumHeads   int
	HasMask    bool
	TypeID     DataType
	// DQProbs is the dequantization scale for attention probabilities under
	// quantization-aware training; zero when unset.
	DQProbs float32
}

// SkipLayerNormParams configures a fused residual-add + layernorm node.
type SkipLayerNormParams struct {
	HiddenSize int
	Beta       *tensor.Tensor
	Gamma      *tensor.Tensor
	Bias       *tensor.Tensor // optional folded dense bias
	TypeID     DataType
}

// EmbeddingParams configures the fused embedding + layernorm node.
type EmbeddingParams struct {
	WordEmb    *tensor.Tensor
	PosEmb     *tensor.Tensor
	TokTypeEmb *tensor.Tensor
	Beta       *tensor.Tensor
	Gamma      *tensor.Tensor
	OutputFP16 bool
	MHAType    DataType
	SeqLen     int
	HiddenSize int
}

// OperatorFactory creates the fused operator nodes graph assembly depends
// on. Concrete accelerator backends implement it, keeping block builders
// independent of any one runtime's ABI.
type OperatorFactory interface {
	CreateFusedEmbedding(g *Graph, p EmbeddingParams, inputs []*TensorRef) (*Node, error)
	CreateFusedAttention(g *Graph, p FusedAttentionParams, inputs []*TensorRef) (*Node, error)
	CreateFusedSkipLayerNorm(g *Graph, p SkipLayerNormParams, input, skip *TensorRef) (*Node, error)
	CreateDenseProjection(g *Graph, p DenseParams, input *TensorRef) (*Node, error)
}

// StandardFactory emits the portable fused node kinds understood by the
// bundled plan backend.
type StandardFactory struct{}

// NewStandardFactory returns the portable operator factory.
func NewStandardFactory() *StandardFactory { return &StandardFactory{} }

func (f *StandardFactory) CreateFusedEmbedding(g *Graph, p EmbeddingParams, inputs []*TensorRef) (*Node, error) {
	if len(inputs) != 3 {
		return nil, fmt.Errorf("fused embedding: want 3 inputs (ids, segment ids, mask), have %d", len(inputs))
	}
	batch := inputs[0].Shape()[1]
	n := g.addNode(KindFusedEmbedding, inputs, []outputSpec{
		{name: g.outName(KindFusedEmbedding, 0), shape: EncoderShape(p.SeqLen, batch, p.HiddenSize), dtype: embOutType(p)},
		{name: g.outName(KindFusedEmbedding, 1), shape: tensor.Shape{batch}, dtype: Int32},
	}, map[string]any{
		"output_fp16": p.OutputFP16,
		"mha_type":    p.MHAType.String(),
	})
	n.Weights = []*tensor.Tensor{p.Beta, p.Gamma, p.WordEmb, p.TokTypeEmb, p.PosEmb}
	return n, nil
}

func embOutType(p EmbeddingParams) DataType {
	if p.OutputFP16 {
		return Float16
	}
	return Float32
}

func (f *StandardFactory) CreateFusedAttention(g *Graph, p FusedAttentionParams, inputs []*TensorRef) (*Node, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("fused attention: missing projection input")
	}
	if err := CheckRank5(inputs[0]); err != nil {
		return nil, err
	}
	in := inputs[0].Shape()
	attrs := map[string]any{
		"hidden_size": p.HiddenSize,
		"num_heads":   p.NumHeads,
		"has_mask":    p.HasMask,
		"type_id":     p.TypeID.String(),
	}
	if p.DQProbs != 0 {
		attrs["dq_probs"] = p.DQProbs
	}
	return g.addNode(KindFusedAttention, inputs, []outputSpec{
		{name: g.outName(KindFusedAttention, 0), shape: EncoderShape(in[0], in[1], p.HiddenSize), dtype: p.TypeID},
	}, attrs), nil
}

func (f *StandardFactory) CreateFusedSkipLayerNorm(g *Graph, p SkipLayerNormParams, input, skip *TensorRef) (*Node, error) {
	if err := CheckRank5(input); err != nil {
		return nil, err
	}
	if err := CheckRank5(skip); err != nil {
		return nil, err
	}
	n := g.addNode(KindFusedSkipLN, []*TensorRef{input, skip}, []outputSpec{
		{name: g.outName(KindFusedSkipLN, 0), shape: input.Shape(), dtype: p.TypeID},
	}, map[string]any{
		"ld":      p.HiddenSize,
		"type_id": p.TypeID.String(),
	})
	n.Weights = []*tensor.Tensor{p.Beta, p.Gamma}
	if p.Bias != nil {
		n.Weights = append(n.Weights, p.Bias)
	}
	return n, nil
}

func (f *StandardFactory) CreateDenseProjection(g *Graph, p DenseParams, input *TensorRef) (*Node, error) {
	if err := CheckRank5(input); err != nil {
		return nil, err
	}
	if p.Kernel == nil {
		return nil, fmt.Errorf("dense projection: nil kernel")
	}
	in := input.Shape()
	attrs := map[string]any{
		"out_channels": p.OutChannels,
		"mode":         string(p.Mode),
	}
	outType := input.DType()
	if p.ForceOutputType != nil {
		outType = *p.ForceOutputType
		attrs["output_type"] = outType.String()
	}
	n := g.addNode(KindDense, []*TensorRef{input}, []outputSpec{
		{name: g.outName(KindDense, 0), shape: EncoderShape(in[0], in[1], p.OutChannels), dtype: outType},
	}, attrs)
	n.Weights = []*tensor.Tensor{p.Kernel}
	if p.Bias != nil {
		n.Weights = append(n.Weights, p.Bias)
	}
	return n, nil
}
