package weights

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/mlforge/bertbuild/internal/checkpoint"
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/tensor"
)

const (
	testHeads    = 2
	testHeadSize = 4
	testHidden   = testHeads * testHeadSize
)

func testConfig() *config.Model {
	return &config.Model{
		NumAttentionHeads: testHeads,
		HiddenSize:        testHidden,
		IntermediateSize:  4 * testHidden,
		NumHiddenLayers:   1,
	}
}

func quietLogger() logger.Logger {
	return logger.JSON(io.Discard, slog.LevelError)
}

func randVals(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func mustTensor(t *testing.T, name string, shape tensor.Shape, vals []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromFloat32(name, shape, vals)
	if err != nil {
		t.Fatalf("tensor %s: %v", name, err)
	}
	return out
}

// attentionCheckpoint builds an in-memory checkpoint holding one attention
// block's raw query/key/value parameters.
func attentionCheckpoint(t *testing.T, rng *rand.Rand) (*checkpoint.Mem, map[string][]float32) {
	t.Helper()
	vals := map[string][]float32{
		"query.weight": randVals(rng, testHidden*testHidden),
		"key.weight":   randVals(rng, testHidden*testHidden),
		"value.weight": randVals(rng, testHidden*testHidden),
		"query.bias":   randVals(rng, testHidden),
		"key.bias":     randVals(rng, testHidden),
		"value.bias":   randVals(rng, testHidden),
	}
	tensors := make(map[string]*tensor.Tensor)
	for suffix, v := range vals {
		key := "ensemble.models.0.bert.encoder.layer.0.attention.self." + suffix
		shape := tensor.Shape{testHidden, testHidden}
		if strings.HasSuffix(suffix, "bias") {
			shape = tensor.Shape{testHidden}
		}
		tensors[key] = mustTensor(t, key, shape, v)
	}
	return checkpoint.NewMem(tensors), vals
}

func TestQKVFusionRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	src, orig := attentionCheckpoint(t, rng)

	m, err := Load(src, []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ns := m.Submodel(0)

	fusedW, err := ns.Get("l0_attention_" + WQKV)
	if err != nil {
		t.Fatalf("fused kernel: %v", err)
	}
	wantShape := tensor.Shape{testHeads, 3, testHeadSize, testHeads, testHeadSize}
	if !fusedW.Shape().Equal(wantShape) {
		t.Fatalf("fused kernel shape %v, want %v", fusedW.Shape(), wantShape)
	}
	fusedB, err := ns.Get("l0_attention_" + BQKV)
	if err != nil {
		t.Fatalf("fused bias: %v", err)
	}
	if !fusedB.Shape().Equal(tensor.Shape{testHeads, 3, testHeadSize}) {
		t.Fatalf("fused bias shape %v", fusedB.Shape())
	}

	// Invert the [3,N,Hd,M] -> [N,3,Hd,M] permutation and unstack; the
	// recovered matrices must match the originals bit for bit.
	recoverStack := func(fused []float32, m int) [3][]float32 {
		var out [3][]float32
		for c := 0; c < 3; c++ {
			out[c] = make([]float32, testHidden*m)
		}
		for c := 0; c < 3; c++ {
			for n := 0; n < testHeads; n++ {
				for h := 0; h < testHeadSize; h++ {
					src := ((n*3+c)*testHeadSize + h) * m
					dst := (n*testHeadSize + h) * m
					copy(out[c][dst:dst+m], fused[src:src+m])
				}
			}
		}
		return out
	}

	kernels := recoverStack(fusedW.Float32s(), testHidden)
	biases := recoverStack(fusedB.Float32s(), 1)
	for i, suffix := range []string{"query", "key", "value"} {
		wantW := orig[suffix+".weight"]
		for j := range wantW {
			if kernels[i][j] != wantW[j] {
				t.Fatalf("%s kernel differs at %d after round trip", suffix, j)
			}
		}
		wantB := orig[suffix+".bias"]
		for j := range wantB {
			if biases[i][j] != wantB[j] {
				t.Fatalf("%s bias differs at %d after round trip", suffix, j)
			}
		}
	}
}

func TestFusionMissingKeyBias(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	tensors := make(map[string]*tensor.Tensor)
	add := func(suffix string, shape tensor.Shape, n int) {
		key := "ensemble.models.0.bert.encoder.layer.0.attention.self." + suffix
		tensors[key] = mustTensor(t, key, shape, randVals(rng, n))
	}
	add("query.weight", tensor.Shape{testHidden, testHidden}, testHidden*testHidden)
	add("key.weight", tensor.Shape{testHidden, testHidden}, testHidden*testHidden)
	add("value.weight", tensor.Shape{testHidden, testHidden}, testHidden*testHidden)
	add("query.bias", tensor.Shape{testHidden}, testHidden)
	add("value.bias", tensor.Shape{testHidden}, testHidden)
	// key.bias deliberately absent

	_, err := Load(checkpoint.NewMem(tensors), []*config.Model{testConfig()}, quietLogger())
	var missing *MissingWeightError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingWeightError, got %v", err)
	}
	if missing.Key != "l0_attention_"+BK {
		t.Fatalf("error names %q, want %q", missing.Key, "l0_attention_"+BK)
	}
}

func TestFusionIsDeterministic(t *testing.T) {
	t.Parallel()
	rng1 := rand.New(rand.NewSource(5))
	rng2 := rand.New(rand.NewSource(5))
	srcA, _ := attentionCheckpoint(t, rng1)
	srcB, _ := attentionCheckpoint(t, rng2)

	mapA, err := Load(srcA, []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load A: %v", err)
	}
	mapB, err := Load(srcB, []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load B: %v", err)
	}

	wA, _ := mapA.Submodel(0).Get("l0_attention_" + WQKV)
	wB, _ := mapB.Submodel(0).Get("l0_attention_" + WQKV)
	a, b := wA.Bytes(), wB.Bytes()
	if len(a) != len(b) {
		t.Fatal("fused outputs differ in size")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("identical inputs produced different fused bytes at %d", i)
		}
	}
}

func TestTransposedIsMemoized(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(9))
	src, _ := attentionCheckpoint(t, rng)
	m, err := Load(src, []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ns := m.Submodel(0)

	first, err := ns.Transposed("l0_attention_" + WQKV)
	if err != nil {
		t.Fatalf("Transposed: %v", err)
	}
	wantShape := tensor.Shape{testHeadSize, testHeads, testHeadSize, 3, testHeads}
	if !first.Shape().Equal(wantShape) {
		t.Fatalf("transposed shape %v, want %v", first.Shape(), wantShape)
	}

	second, err := ns.Transposed("l0_attention_" + WQKV)
	if err != nil {
		t.Fatalf("Transposed: %v", err)
	}
	if first != second {
		t.Fatal("second request should return the memoized view")
	}
}

func TestLoadSkipsUnknownKeys(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	src, _ := attentionCheckpoint(t, rng)
	tensors := map[string]*tensor.Tensor{
		"global_step": mustTensor(t, "global_step", tensor.Shape{1}, []float32{100}),
	}
	for _, name := range src.Names() {
		tt, _ := src.Read(name)
		tensors[name] = tt
	}

	m, err := Load(checkpoint.NewMem(tensors), []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range m.Submodel(0).Names() {
		if strings.Contains(name, "global_step") {
			t.Fatal("training-only key should have been skipped")
		}
	}
}

func TestAmax(t *testing.T) {
	t.Parallel()
	key := "models.0.bert.encoder.layer.0.output.dense.input_quantizer._amax"
	rng := rand.New(rand.NewSource(2))
	src, _ := attentionCheckpoint(t, rng)
	tensors := map[string]*tensor.Tensor{
		key: mustTensor(t, key, tensor.Shape{1}, []float32{2.5}),
	}
	for _, name := range src.Names() {
		tt, _ := src.Read(name)
		tensors[name] = tt
	}

	m, err := Load(checkpoint.NewMem(tensors), []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := m.Submodel(0).Amax("l0_output_dense_input_amax")
	if err != nil {
		t.Fatalf("Amax: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("amax = %v, want 2.5", v)
	}
}

func TestSizeDump(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(4))
	src, _ := attentionCheckpoint(t, rng)
	m, err := Load(src, []*config.Model{testConfig()}, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dump := m.SizeDump()
	want := testHidden * testHidden * 4
	if got := dump["0_l0_attention_"+WQ]; got != want {
		t.Fatalf("kernel size = %d, want %d", got, want)
	}
	fused := dump["0_l0_attention_"+WQKV]
	if fused != 3*want {
		t.Fatalf("fused kernel size = %d, want %d", fused, 3*want)
	}

	var sb strings.Builder
	if err := m.WriteSizes(&sb); err != nil {
		t.Fatalf("WriteSizes: %v", err)
	}
	if !strings.Contains(sb.String(), WQKV) {
		t.Fatal("size dump should mention the fused kernel")
	}
}
