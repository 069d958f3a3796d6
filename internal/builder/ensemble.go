package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

// hiddenAxis is the feature axis of rank-5 transformer-stage tensors;
// ensemble outputs are concatenated along it.
const hiddenAxis = 2

// ClassifierOutput is the name of the final softmax score tensor.
const ClassifierOutput = "classifier_score"

// buildEnsembleAggregate concatenates the submodel pooled outputs along the
// hidden axis. When maskedMean is set the aggregate is instead the masked
// mean over the concatenated sequence outputs: mask-weighted sum over the
// sequence axis divided by the mask total.
func buildEnsembleAggregate(g *graph.Graph, pooled, seqOuts []*graph.TensorRef,
	maskF32 *graph.TensorRef, maskedMean bool) (*graph.TensorRef, error) {

	if len(pooled) == 0 {
		return nil, fmt.Errorf("ensemble: no submodel outputs")
	}

	pooledCat, err := g.AddConcat(pooled, hiddenAxis)
	if err != nil {
		return nil, fmt.Errorf("ensemble pooled concat: %w", err)
	}
	if !maskedMean {
		return pooledCat.Output(0), nil
	}

	seqCat, err := g.AddConcat(seqOuts, hiddenAxis)
	if err != nil {
		return nil, fmt.Errorf("ensemble sequence concat: %w", err)
	}

	maskShape := maskF32.Shape()
	maskExp := g.AddReshape(maskF32, tensor.Shape{maskShape[0], maskShape[1], 1, 1, 1})

	weighted, err := g.AddElementwise(graph.EltProd, seqCat.Output(0), maskExp.Output(0))
	if err != nil {
		return nil, err
	}
	num, err := g.AddReduce(graph.ReduceSum, weighted.Output(0), 0, true)
	if err != nil {
		return nil, err
	}
	den, err := g.AddReduce(graph.ReduceSum, maskExp.Output(0), 0, true)
	if err != nil {
		return nil, err
	}
	mean, err := g.AddElementwise(graph.EltDiv, num.Output(0), den.Output(0))
	if err != nil {
		return nil, err
	}
	return mean.Output(0), nil
}

// buildClassifier emits the classifier head over the ensemble aggregate:
// dense projection to the two-way logits, reshape to a column, softmax.
func buildClassifier(g *graph.Graph, f graph.OperatorFactory, cls *weights.Namespace, input *graph.TensorRef) (*graph.TensorRef, error) {
	kernel, err := cls.Get(weights.ClassifierW)
	if err != nil {
		return nil, err
	}
	bias, err := cls.Get(weights.ClassifierB)
	if err != nil {
		return nil, err
	}

	dense, err := f.CreateDenseProjection(g, graph.DenseParams{
		OutChannels: 2,
		Kernel:      kernel,
		Bias:        bias,
		Mode:        graph.DenseFC,
	}, input)
	if err != nil {
		return nil, fmt.Errorf("classifier projection: %w", err)
	}

	logits := g.AddReshape(dense.Output(0), tensor.Shape{2, 1})
	score := g.AddSoftmax(logits.Output(0))
	score.Output(0).SetName(ClassifierOutput)
	return score.Output(0), nil
}
