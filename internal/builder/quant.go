package builder

import (
	"fmt"

	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/weights"
)

// Quantizer amax entry names read during quantization-aware assembly. Each
// is appended to a layer or attention prefix such as "l0_" or
// "l0_attention_".
const (
	amaxQVA       = "self_qv_a_input_quantizer_amax"
	amaxQVB       = "self_qv_b_input_quantizer_amax"
	amaxAVA       = "self_av_a_input_quantizer_amax"
	amaxAVB       = "self_av_b_input_quantizer_amax"
	amaxDenseIn   = "output_dense_input_amax"
	amaxQueryIn   = "attention_self_query_input_amax"
	amaxKeyIn     = "attention_self_key_input_amax"
	amaxValueIn   = "attention_self_value_input_amax"
	amaxAttnAdd   = "attention_output_add_local_input_quantizer_amax"
	amaxInterIn   = "intermediate_dense_input_amax"
	amaxOutputAdd = "output_add_local_input_quantizer_amax"
)

// attentionProjectionRange is the dynamic range of the fused QKV projection
// output: the widest of the three quantizer scales feeding the attention
// kernel.
func attentionProjectionRange(ns *weights.Namespace, prefix string) (float32, error) {
	dr := float32(0)
	for _, name := range []string{amaxQVA, amaxQVB, amaxAVB} {
		v, err := ns.Amax(prefix + name)
		if err != nil {
			return 0, err
		}
		if v > dr {
			dr = v
		}
	}
	return dr, nil
}

// attentionDQProbs is the dequantization scale for attention probabilities,
// the probability-path quantizer amax mapped onto the int8 grid.
func attentionDQProbs(ns *weights.Namespace, prefix string) (float32, error) {
	v, err := ns.Amax(prefix + amaxAVA)
	if err != nil {
		return 0, err
	}
	return v / 127.0, nil
}

// layerInputRange is the dynamic range of a transformer layer's input. The
// query, key and value input quantizers must agree on it.
func layerInputRange(ns *weights.Namespace, prefix string) (float32, error) {
	q, err := ns.Amax(prefix + amaxQueryIn)
	if err != nil {
		return 0, err
	}
	for _, name := range []string{amaxKeyIn, amaxValueIn} {
		v, err := ns.Amax(prefix + name)
		if err != nil {
			return 0, err
		}
		if v != q {
			return 0, fmt.Errorf("layer %s: query/key/value input quantizer scales disagree (%v vs %v)",
				prefix, q, v)
		}
	}
	return q, nil
}

// Annotator applies calibration-derived dynamic ranges to named graph
// tensors after assembly. It serves the post-training int8 path, where
// ranges come from a calibration cache instead of checkpoint amax entries.
type Annotator struct {
	ranges map[string]float32
}

// NewAnnotator wraps a name -> range table, typically read from the
// calibration cache.
func NewAnnotator(ranges map[string]float32) *Annotator {
	return &Annotator{ranges: ranges}
}

// Apply sets the dynamic range of every graph tensor whose name appears in
// the table and returns how many tensors were annotated. Table entries with
// no matching tensor are logged; the cache may carry ranges for tensors a
// precision variant of the graph does not materialize. Tensors that already
// carry a range keep it: the table comes from an fp32 derivation pass and
// may cover tensors the quantized assembly ranges itself.
func (a *Annotator) Apply(g *graph.Graph, log logger.Logger) (int, error) {
	matched := 0
	seen := make(map[string]bool, len(a.ranges))

	annotate := func(ref *graph.TensorRef) error {
		max, ok := a.ranges[ref.Name()]
		if !ok {
			return nil
		}
		if ref.DynamicRange() != nil {
			seen[ref.Name()] = true
			log.Debug("tensor already ranged, keeping graph value", "tensor", ref.Name())
			return nil
		}
		if err := ref.SetDynamicRange(max); err != nil {
			return err
		}
		seen[ref.Name()] = true
		matched++
		return nil
	}

	for i := 0; i < g.NumInputs(); i++ {
		if err := annotate(g.Input(i)); err != nil {
			return matched, err
		}
	}
	for _, n := range g.Nodes() {
		for i := 0; i < n.NumOutputs(); i++ {
			if err := annotate(n.Output(i)); err != nil {
				return matched, err
			}
		}
	}

	for name := range a.ranges {
		if !seen[name] {
			log.Debug("calibration range has no matching graph tensor", "tensor", name)
		}
	}
	return matched, nil
}
