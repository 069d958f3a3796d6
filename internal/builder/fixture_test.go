package builder

import (
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/mlforge/bertbuild/internal/checkpoint"
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/tensor"
	"github.com/mlforge/bertbuild/internal/weights"
)

const (
	testHeads    = 2
	testHeadSize = 4
	testHidden   = testHeads * testHeadSize
	testInter    = 2 * testHidden
	testSeqLen   = 4
	testVocab    = 6
)

func testConfig(flags config.Flags) *config.Model {
	return &config.Model{
		NumAttentionHeads: testHeads,
		HiddenSize:        testHidden,
		IntermediateSize:  testInter,
		NumHiddenLayers:   1,

		UseFP16:          flags.FP16,
		UseInt8:          flags.Int8,
		UseStrict:        flags.Strict,
		UseFC2Gemm:       flags.FC2Gemm,
		UseInt8SkipLN:    flags.Int8SkipLN,
		UseInt8MultiHead: flags.Int8MultiHead,
		UseQAT:           flags.QAT,
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

// submodelEntries returns the raw checkpoint paths and shapes of one full
// one-layer submodel, relative to its "models.<id>.bert." prefix.
func submodelEntries() map[string]tensor.Shape {
	return map[string]tensor.Shape{
		"embeddings.word_embeddings.weight":       {testVocab, testHidden},
		"embeddings.position_embeddings.weight":   {testSeqLen, testHidden},
		"embeddings.token_type_embeddings.weight": {2, testHidden},
		"embeddings.layernorm.weight":             {testHidden},
		"embeddings.layernorm.bias":               {testHidden},

		"encoder.layer.0.attention.self.query.weight":       {testHidden, testHidden},
		"encoder.layer.0.attention.self.query.bias":         {testHidden},
		"encoder.layer.0.attention.self.key.weight":         {testHidden, testHidden},
		"encoder.layer.0.attention.self.key.bias":           {testHidden},
		"encoder.layer.0.attention.self.value.weight":       {testHidden, testHidden},
		"encoder.layer.0.attention.self.value.bias":         {testHidden},
		"encoder.layer.0.attention.output.dense.weight":     {testHidden, testHidden},
		"encoder.layer.0.attention.output.dense.bias":       {testHidden},
		"encoder.layer.0.attention.output.layernorm.weight": {testHidden},
		"encoder.layer.0.attention.output.layernorm.bias":   {testHidden},
		"encoder.layer.0.intermediate.dense.weight":         {testInter, testHidden},
		"encoder.layer.0.intermediate.dense.bias":           {testInter},
		"encoder.layer.0.output.dense.weight":               {testHidden, testInter},
		"encoder.layer.0.output.dense.bias":                 {testHidden},
		"encoder.layer.0.output.layernorm.weight":           {testHidden},
		"encoder.layer.0.output.layernorm.bias":             {testHidden},

		"pooler.dense.weight": {testHidden, testHidden},
		"pooler.dense.bias":   {testHidden},
	}
}

// qatAmaxEntries are the quantizer scales a quantization-aware checkpoint
// carries for the fixture layer, keyed by raw path relative to the submodel
// prefix.
func qatAmaxEntries() map[string]float32 {
	return map[string]float32{
		"encoder.layer.0.attention.self.query.input_quantizer._amax":       2.5,
		"encoder.layer.0.attention.self.key.input_quantizer._amax":         2.5,
		"encoder.layer.0.attention.self.value.input_quantizer._amax":       2.5,
		"encoder.layer.0.attention.self.qv_a.input_quantizer._amax":        1,
		"encoder.layer.0.attention.self.qv_b.input_quantizer._amax":        2,
		"encoder.layer.0.attention.self.av_a.input_quantizer._amax":        1.27,
		"encoder.layer.0.attention.self.av_b.input_quantizer._amax":        1.5,
		"encoder.layer.0.attention.output.dense.input_quantizer._amax":     3,
		"encoder.layer.0.attention.output.add_local_input_quantizer._amax": 4,
		"encoder.layer.0.intermediate.dense.input_quantizer._amax":         5,
		"encoder.layer.0.output.dense.input_quantizer._amax":               6,
		"encoder.layer.0.output.add_local_input_quantizer._amax":           7,
		"encoder.final_input_quantizer._amax":                              8,
	}
}

// loadTestMap builds an in-memory ensemble checkpoint with the given number
// of submodels, loads it, and returns the weight map with matching configs.
func loadTestMap(t *testing.T, submodels int, flags config.Flags, withQAT bool) (*weights.Map, []*config.Model) {
	t.Helper()
	rng := rand.New(rand.NewSource(23))
	tensors := make(map[string]*tensor.Tensor)

	for id := 0; id < submodels; id++ {
		prefix := "ensemble.models." + string(rune('0'+id)) + ".bert."
		for path, shape := range submodelEntries() {
			key := prefix + path
			n, err := shape.NumElements()
			if err != nil {
				t.Fatalf("shape %v: %v", shape, err)
			}
			vals := randVals(rng, n)
			if strings.Contains(path, "layernorm.weight") {
				for i := range vals {
					vals[i] = 1
				}
			}
			tensors[key] = mustTensor(t, key, shape, vals)
		}
		if withQAT {
			for path, v := range qatAmaxEntries() {
				key := prefix + path
				tensors[key] = mustTensor(t, key, tensor.Shape{1}, []float32{v})
			}
		}
	}

	tensors["classifier.weight"] = mustTensor(t, "classifier.weight",
		tensor.Shape{2, submodels * testHidden}, randVals(rng, 2*submodels*testHidden))
	tensors["classifier.bias"] = mustTensor(t, "classifier.bias",
		tensor.Shape{2}, randVals(rng, 2))

	models := make([]*config.Model, submodels)
	for i := range models {
		models[i] = testConfig(flags)
	}

	wm, err := weights.Load(checkpoint.NewMem(tensors), models, quietLogger())
	if err != nil {
		t.Fatalf("load weights: %v", err)
	}
	return wm, models
}

// findTensor locates a graph tensor by name across inputs and node outputs.
func findTensor(t *testing.T, g *graph.Graph, name string) *graph.TensorRef {
	t.Helper()
	for i := 0; i < g.NumInputs(); i++ {
		if g.Input(i).Name() == name {
			return g.Input(i)
		}
	}
	for _, n := range g.Nodes() {
		for i := 0; i < n.NumOutputs(); i++ {
			if n.Output(i).Name() == name {
				return n.Output(i)
			}
		}
	}
	t.Fatalf("graph tensor %q not found", name)
	return nil
}
