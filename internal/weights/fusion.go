package weights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/tensor"
)

// qkvBiasSuffixes anchor fusion: any one of them establishes an attention
// prefix that must then carry the full query/key/value weight+bias set.
var qkvBiasSuffixes = []string{BQ, BK, BV}

// fuseQKV packs each attention prefix's separate query/key/value projection
// parameters into single fused tensors:
//
//	kernels [H,H] stacked on a new axis 0   -> [3, N, Hd, N, Hd]
//	permuted to interleave per head         -> [N, 3, Hd, N, Hd]
//	biases  [H]   stacked and permuted      -> [N, 3, Hd]
//
// The fused kernel is stored under <prefix>self_qkv_kernel; its reversed-axes
// orientation is available through Namespace.Transposed. The transform is a
// pure function of the input bytes.
func fuseQKV(ns *Namespace, cfg *config.Model) error {
	prefixes := attentionPrefixes(ns)

	for _, prefix := range prefixes {
		fusedW, fusedB, err := fuseOne(ns, prefix, cfg)
		if err != nil {
			return err
		}
		ns.put(fusedW)
		ns.put(fusedB)
	}
	return nil
}

func attentionPrefixes(ns *Namespace) []string {
	seen := make(map[string]bool)
	for name := range ns.tensors {
		for _, suffix := range qkvBiasSuffixes {
			if prefix, ok := strings.CutSuffix(name, suffix); ok {
				seen[prefix] = true
			}
		}
	}
	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}

func fuseOne(ns *Namespace, prefix string, cfg *config.Model) (*tensor.Tensor, *tensor.Tensor, error) {
	var kernels, biases [3]*tensor.Tensor
	for i, suffix := range []string{WQ, WK, WV} {
		t, err := ns.Get(prefix + suffix)
		if err != nil {
			return nil, nil, &MissingWeightError{Key: prefix + suffix}
		}
		kernels[i] = t
	}
	for i, suffix := range qkvBiasSuffixes {
		t, err := ns.Get(prefix + suffix)
		if err != nil {
			return nil, nil, &MissingWeightError{Key: prefix + suffix}
		}
		biases[i] = t
	}

	hidden := cfg.HiddenSize
	heads := cfg.NumAttentionHeads
	headSize := cfg.HeadSize()

	for _, k := range kernels {
		if !k.Shape().Equal(tensor.Shape{hidden, hidden}) {
			return nil, nil, &tensor.ShapeMismatchError{
				Name:   k.Name(),
				Detail: fmt.Sprintf("attention kernel must be [%d,%d], have %v", hidden, hidden, k.Shape()),
			}
		}
	}
	for _, b := range biases {
		if !b.Shape().Equal(tensor.Shape{hidden}) {
			return nil, nil, &tensor.ShapeMismatchError{
				Name:   b.Name(),
				Detail: fmt.Sprintf("attention bias must be [%d], have %v", hidden, b.Shape()),
			}
		}
	}

	// Stack on a new leading axis: [3, N, Hd, H].
	matSize := hidden * hidden
	wall := make([]float32, 3*matSize)
	for i, k := range kernels {
		copy(wall[i*matSize:(i+1)*matSize], k.Float32s())
	}
	ball := make([]float32, 3*hidden)
	for i, b := range biases {
		copy(ball[i*hidden:(i+1)*hidden], b.Float32s())
	}

	// Permute [3, N, Hd, ...] -> [N, 3, Hd, ...] so each head carries its
	// query, key and value rows contiguously.
	fusedW, err := tensor.FromFloat32(prefix+WQKV,
		tensor.Shape{heads, 3, headSize, heads, headSize},
		permuteQKV(wall, heads, headSize, hidden))
	if err != nil {
		return nil, nil, err
	}
	fusedB, err := tensor.FromFloat32(prefix+BQKV,
		tensor.Shape{heads, 3, headSize},
		permuteQKV(ball, heads, headSize, 1))
	if err != nil {
		return nil, nil, err
	}
	return fusedW, fusedB, nil
}

// permuteQKV reorders a [3, N, Hd, M] buffer to [N, 3, Hd, M]. For fused
// kernels M is the hidden size; for fused biases M is 1.
func permuteQKV(in []float32, heads, headSize, m int) []float32 {
	out := make([]float32, len(in))
	for c := 0; c < 3; c++ {
		for n := 0; n < heads; n++ {
			for h := 0; h < headSize; h++ {
				src := ((c*heads+n)*headSize + h) * m
				dst := ((n*3+c)*headSize + h) * m
				copy(out[dst:dst+m], in[src:src+m])
			}
		}
	}
	return out
}
