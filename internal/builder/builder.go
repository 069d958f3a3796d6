// Package builder assembles the quantization-aware inference graph from
// normalized ensemble weights: one embedding + encoder + pooler chain per
// submodel over shared inputs, an ensemble aggregate and the classifier
// head.
package builder

import (
	"context"
	"fmt"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// Options configure one graph assembly pass.
type Options struct {
	SequenceLength int
	BatchSizes     []int

	// Factory supplies the fused operators; nil selects the portable
	// standard factory.
	Factory graph.OperatorFactory

	// MaskedMeanAggregate feeds the classifier the masked mean over the
	// concatenated sequence outputs instead of the concatenated pooled
	// outputs.
	MaskedMeanAggregate bool
}

// GraphBuilder sequences graph assembly for a whole ensemble.
type GraphBuilder struct {
	models []*config.Model
	wm     *weights.Map
	log    logger.Logger
	opts   Options
}

// New validates the ensemble configuration and prepares a builder.
// Hyperparameter anomalies surface here, before any graph node exists.
func New(models []*config.Model, wm *weights.Map, log logger.Logger, opts Options) (*GraphBuilder, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("builder: no submodel configs")
	}
	if wm.NumSubmodels() != len(models) {
		return nil, fmt.Errorf("builder: %d submodel configs but %d weight namespaces",
			len(models), wm.NumSubmodels())
	}
	if opts.SequenceLength <= 0 {
		return nil, fmt.Errorf("builder: sequence length must be positive, have %d", opts.SequenceLength)
	}
	if len(opts.BatchSizes) == 0 {
		return nil, fmt.Errorf("builder: no batch sizes")
	}
	if opts.Factory == nil {
		opts.Factory = graph.NewStandardFactory()
	}

	for i, cfg := range models {
		if cfg.HiddenSize%cfg.NumAttentionHeads != 0 {
			return nil, &tensor.ShapeMismatchError{
				Name: fmt.Sprintf("submodel %d", i),
				Detail: fmt.Sprintf("hidden size %d not divisible by %d attention heads",
					cfg.HiddenSize, cfg.NumAttentionHeads),
			}
		}
	}

	return &GraphBuilder{models: models, wm: wm, log: log, opts: opts}, nil
}

// Build assembles the full ensemble graph and marks the classifier score as
// its output.
func (b *GraphBuilder) Build(ctx context.Context) (*graph.Graph, error) {
	g := graph.New()
	f := b.opts.Factory

	in, err := declareInputs(g, b.opts.SequenceLength, b.opts.BatchSizes)
	if err != nil {
		return nil, err
	}

	pooled := make([]*graph.TensorRef, 0, len(b.models))
	seqOuts := make([]*graph.TensorRef, 0, len(b.models))
	for i, cfg := range b.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bc := graph.NewBuildContext(i)
		ns := b.wm.Submodel(i)

		emb, maskIdx, err := buildEmbedding(g, f, bc, cfg, ns, in, b.opts.SequenceLength)
		if err != nil {
			return nil, fmt.Errorf("submodel %d: %w", i, err)
		}
		encOut, err := buildEncoder(g, f, bc, cfg, ns, emb, maskIdx)
		if err != nil {
			return nil, fmt.Errorf("submodel %d: %w", i, err)
		}
		poolOut, err := buildPooler(g, f, ns, encOut)
		if err != nil {
			return nil, fmt.Errorf("submodel %d: %w", i, err)
		}
		pooled = append(pooled, poolOut)
		seqOuts = append(seqOuts, encOut)

		b.log.Info("assembled submodel",
			"submodel", i,
			"layers", cfg.NumHiddenLayers,
			"hidden_size", cfg.HiddenSize,
			"nodes", g.NumNodes())
	}

	agg, err := buildEnsembleAggregate(g, pooled, seqOuts, in.maskF32, b.opts.MaskedMeanAggregate)
	if err != nil {
		return nil, err
	}
	score, err := buildClassifier(g, f, b.wm.Classifier(), agg)
	if err != nil {
		return nil, err
	}
	g.MarkOutput(score)

	b.log.Info("graph assembled",
		"submodels", len(b.models),
		"nodes", g.NumNodes(),
		"profiles", len(g.Profiles()))
	return g, nil
}
