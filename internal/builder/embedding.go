package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// Shared graph input names, declared once and read by every submodel.
const (
	InputIDs      = "input_ids"
	SegmentIDs    = "segment_ids"
	InputMask     = "input_mask"
	InputMaskFP32 = "input_mask_fp32"
)

// sharedInputs are the four ensemble-wide graph inputs.
type sharedInputs struct {
	ids     *graph.TensorRef
	segs    *graph.TensorRef
	mask    *graph.TensorRef
	maskF32 *graph.TensorRef
}

// declareInputs declares the shared (sequence_length, batch) inputs. With
// more than one batch size the batch dimension is dynamic and one
// optimization profile per requested size is attached to the graph.
func declareInputs(g *graph.Graph, seqLen int, batchSizes []int) (*sharedInputs, error) {
	if len(batchSizes) == 0 {
		return nil, fmt.Errorf("no batch sizes requested")
	}

	batch := batchSizes[0]
	if len(batchSizes) > 1 {
		batch = -1
	}
	shape := tensor.Shape{seqLen, batch}

	ids, err := g.AddInput(InputIDs, graph.Int32, shape)
	if err != nil {
		return nil, err
	}
	segs, err := g.AddInput(SegmentIDs, graph.Int32, shape)
	if err != nil {
		return nil, err
	}
	mask, err := g.AddInput(InputMask, graph.Int32, shape)
	if err != nil {
		return nil, err
	}
	maskF32, err := g.AddInput(InputMaskFP32, graph.Float32, shape)
	if err != nil {
		return nil, err
	}

	if len(batchSizes) > 1 {
		profiles, err := graph.BatchProfiles(seqLen, batchSizes,
			[]string{InputIDs, SegmentIDs, InputMask, InputMaskFP32})
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			g.AddProfile(p)
		}
	}

	return &sharedInputs{ids: ids, segs: segs, mask: mask, maskF32: maskF32}, nil
}

// buildEmbedding emits the fused embedding + layernorm operator for one
// submodel over the shared inputs. It returns the rank-5 embedded sequence
// and the per-batch mask index the attention operator consumes.
func buildEmbedding(g *graph.Graph, f graph.OperatorFactory, bc *graph.BuildContext,
	cfg *config.Model, ns *weights.Namespace, in *sharedInputs, seqLen int) (*graph.TensorRef, *graph.TensorRef, error) {

	word, err := ns.Get(weights.EmbWord)
	if err != nil {
		return nil, nil, err
	}
	pos, err := ns.Get(weights.EmbPosition)
	if err != nil {
		return nil, nil, err
	}
	tok, err := ns.Get(weights.EmbTokenType)
	if err != nil {
		return nil, nil, err
	}
	beta, err := ns.Get(weights.EmbLNBeta)
	if err != nil {
		return nil, nil, err
	}
	gamma, err := ns.Get(weights.EmbLNGamma)
	if err != nil {
		return nil, nil, err
	}

	n, err := f.CreateFusedEmbedding(g, graph.EmbeddingParams{
		WordEmb:    word,
		PosEmb:     pos,
		TokTypeEmb: tok,
		Beta:       beta,
		Gamma:      gamma,
		OutputFP16: cfg.UseFP16,
		MHAType:    mhaType(cfg),
		SeqLen:     seqLen,
		HiddenSize: cfg.HiddenSize,
	}, []*graph.TensorRef{in.ids, in.segs, in.mask})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding: %w", err)
	}
	if cfg.UseQAT {
		if err := n.Output(1).SetDynamicRange(1); err != nil {
			return nil, nil, err
		}
	}
	bc.NameOutput(n, "embeddings_", "output", 0)
	return n.Output(0), n.Output(1), nil
}
