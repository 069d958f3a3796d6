package builder

import (
	"math"
	"testing"

	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/tensor"
)

// evalGraph executes the simple (non-fused) node kinds over concrete values,
// seeded with the given input tensors. Nodes whose inputs were not computed
// are skipped, so fused-operator subgraphs stay out of the way.
func evalGraph(t *testing.T, g *graph.Graph, seeds map[*graph.TensorRef][]float32) map[*graph.TensorRef][]float32 {
	t.Helper()

	vals := make(map[*graph.TensorRef][]float32, len(seeds))
	for ref, v := range seeds {
		vals[ref] = v
	}

	for _, n := range g.Nodes() {
		ins := make([][]float32, n.NumInputs())
		ready := true
		for i := 0; i < n.NumInputs(); i++ {
			v, ok := vals[n.Input(i)]
			if !ok {
				ready = false
				break
			}
			ins[i] = v
		}
		if !ready && n.Kind != graph.KindConstant {
			continue
		}

		switch n.Kind {
		case graph.KindConstant:
			vals[n.Output(0)] = n.Weights[0].Float32s()

		case graph.KindElementwise:
			op, _ := n.Attrs["op"].(string)
			out := evalElementwise(t, graph.EltOp(op),
				n.Input(0).Shape(), ins[0],
				n.Input(1).Shape(), ins[1],
				n.Output(0).Shape())
			vals[n.Output(0)] = out

		case graph.KindActivation:
			kind, _ := n.Attrs["kind"].(string)
			if graph.ActKind(kind) != graph.ActTanh {
				t.Fatalf("evaluator: unsupported activation %q", kind)
			}
			out := make([]float32, len(ins[0]))
			for i, v := range ins[0] {
				out[i] = float32(math.Tanh(float64(v)))
			}
			vals[n.Output(0)] = out

		case graph.KindReduce:
			axis, _ := n.Attrs["axis"].(int)
			keep, _ := n.Attrs["keep_dims"].(bool)
			if !keep {
				t.Fatalf("evaluator: only keep_dims reductions supported")
			}
			vals[n.Output(0)] = evalReduceSum(t, n.Input(0).Shape(), ins[0], axis)

		case graph.KindReshape:
			vals[n.Output(0)] = ins[0]

		case graph.KindConcat:
			axis, _ := n.Attrs["axis"].(int)
			shapes := make([]tensor.Shape, n.NumInputs())
			for i := 0; i < n.NumInputs(); i++ {
				shapes[i] = n.Input(i).Shape()
			}
			vals[n.Output(0)] = evalConcat(t, shapes, ins, n.Output(0).Shape(), axis)
		}
	}
	return vals
}

func evalElementwise(t *testing.T, op graph.EltOp, aShape tensor.Shape, a []float32,
	bShape tensor.Shape, b []float32, outShape tensor.Shape) []float32 {
	t.Helper()

	total, err := outShape.NumElements()
	if err != nil {
		t.Fatalf("elementwise output shape %v: %v", outShape, err)
	}
	aStr, bStr := aShape.Strides(), bShape.Strides()
	out := make([]float32, total)
	coords := make([]int, outShape.Rank())
	for i := 0; i < total; i++ {
		decompose(outShape, i, coords)
		av := a[broadcastIndex(aShape, aStr, coords)]
		bv := b[broadcastIndex(bShape, bStr, coords)]
		switch op {
		case graph.EltPow:
			out[i] = float32(math.Pow(float64(av), float64(bv)))
		case graph.EltProd:
			out[i] = av * bv
		case graph.EltSum:
			out[i] = av + bv
		case graph.EltDiv:
			out[i] = av / bv
		default:
			t.Fatalf("evaluator: unsupported elementwise op %q", op)
		}
	}
	return out
}

func evalReduceSum(t *testing.T, inShape tensor.Shape, in []float32, axis int) []float32 {
	t.Helper()

	outShape := inShape.Clone()
	outShape[axis] = 1
	total, err := outShape.NumElements()
	if err != nil {
		t.Fatalf("reduce output shape %v: %v", outShape, err)
	}
	outStr := outShape.Strides()
	out := make([]float32, total)
	coords := make([]int, inShape.Rank())
	n, err := inShape.NumElements()
	if err != nil {
		t.Fatalf("reduce input shape %v: %v", inShape, err)
	}
	for i := 0; i < n; i++ {
		decompose(inShape, i, coords)
		oi := 0
		for d, c := range coords {
			if d == axis {
				continue
			}
			oi += c * outStr[d]
		}
		out[oi] += in[i]
	}
	return out
}

func evalConcat(t *testing.T, shapes []tensor.Shape, ins [][]float32, outShape tensor.Shape, axis int) []float32 {
	t.Helper()

	total, err := outShape.NumElements()
	if err != nil {
		t.Fatalf("concat output shape %v: %v", outShape, err)
	}
	out := make([]float32, total)
	outStr := outShape.Strides()
	offset := 0
	for k, in := range ins {
		coords := make([]int, shapes[k].Rank())
		n, err := shapes[k].NumElements()
		if err != nil {
			t.Fatalf("concat input shape %v: %v", shapes[k], err)
		}
		for i := 0; i < n; i++ {
			decompose(shapes[k], i, coords)
			oi := 0
			for d, c := range coords {
				if d == axis {
					c += offset
				}
				oi += c * outStr[d]
			}
			out[oi] = in[i]
		}
		offset += shapes[k][axis]
	}
	return out
}

// decompose writes the row-major coordinates of flat index i into coords.
func decompose(shape tensor.Shape, i int, coords []int) {
	for d := shape.Rank() - 1; d >= 0; d-- {
		coords[d] = i % shape[d]
		i /= shape[d]
	}
}

func broadcastIndex(shape tensor.Shape, strides []int, coords []int) int {
	idx := 0
	for d, c := range coords {
		if shape[d] == 1 {
			continue
		}
		idx += c * strides[d]
	}
	return idx
}
