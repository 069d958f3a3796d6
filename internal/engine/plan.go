package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mlforge/bertbuild/internal/calib"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/tensor"
)

// planMagic heads every plan artifact, followed by the metadata byte length
// and the metadata document; weight payloads follow the metadata verbatim.
const planMagic = "bertbuild-plan-1"

// Plan is the bundled portable backend. It serializes the graph into a
// self-contained artifact an inference runtime can load without rebuilding,
// and derives reference calibration ranges from parameter statistics.
// Accelerator-specific backends replace it behind the Backend interface.
type Plan struct {
	log logger.Logger
}

// NewPlan creates the plan backend.
func NewPlan(log logger.Logger) *Plan {
	return &Plan{log: log}
}

func (p *Plan) Name() string { return "plan" }

type planMeta struct {
	BuildID  string            `json:"build_id"`
	Backend  string            `json:"backend"`
	Options  planOptions       `json:"options"`
	Inputs   []planTensor      `json:"inputs"`
	Outputs  []string          `json:"outputs"`
	Nodes    []planNode        `json:"nodes"`
	Profiles []map[string]any  `json:"profiles,omitempty"`
	Ranges   map[string]string `json:"dynamic_ranges,omitempty"`
}

type planOptions struct {
	WorkspaceSizeMiB int  `json:"workspace_size_mib"`
	FP16             bool `json:"fp16"`
	Int8             bool `json:"int8"`
	Strict           bool `json:"strict"`
}

type planTensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`

	// Range is the hex float32 bit pattern of the symmetric dynamic range,
	// present only when one was set.
	Range string `json:"range,omitempty"`
}

type planNode struct {
	Kind    string         `json:"kind"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Inputs  []string       `json:"inputs"`
	Outputs []planTensor   `json:"outputs"`
	Weights []planWeight   `json:"weights,omitempty"`
}

type planWeight struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	SHA256 string `json:"sha256"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
}

// Compile serializes the graph. The layout is the magic line, the metadata
// length in decimal, the metadata JSON, then the concatenated raw weight
// bytes the metadata offsets point into. Output is deterministic apart from
// the build id.
func (p *Plan) Compile(ctx context.Context, g *graph.Graph, opts CompileOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := planMeta{
		BuildID: uuid.NewString(),
		Backend: p.Name(),
		Options: planOptions{
			WorkspaceSizeMiB: opts.WorkspaceSizeMiB,
			FP16:             opts.FP16,
			Int8:             opts.Int8,
			Strict:           opts.Strict,
		},
	}
	if len(opts.DynamicRanges) > 0 {
		meta.Ranges = make(map[string]string, len(opts.DynamicRanges))
		for name, max := range opts.DynamicRanges {
			meta.Ranges[name] = rangeHex(max)
		}
	}

	for i := 0; i < g.NumInputs(); i++ {
		meta.Inputs = append(meta.Inputs, refMeta(g.Input(i)))
	}
	for _, out := range g.Outputs() {
		meta.Outputs = append(meta.Outputs, out.Name())
	}
	for _, prof := range g.Profiles() {
		pm := make(map[string]any, 3)
		for _, input := range prof.Inputs() {
			r, _ := prof.Shape(input)
			pm[input] = map[string][]int{
				"min": r.Min,
				"opt": r.Opt,
				"max": r.Max,
			}
		}
		meta.Profiles = append(meta.Profiles, pm)
	}

	var blob bytes.Buffer
	for _, n := range g.Nodes() {
		pn := planNode{Kind: n.Kind, Attrs: n.Attrs}
		for i := 0; i < n.NumInputs(); i++ {
			pn.Inputs = append(pn.Inputs, n.Input(i).Name())
		}
		for i := 0; i < n.NumOutputs(); i++ {
			pn.Outputs = append(pn.Outputs, refMeta(n.Output(i)))
		}
		for _, w := range n.Weights {
			data := w.Bytes()
			sum := sha256.Sum256(data)
			pn.Weights = append(pn.Weights, planWeight{
				Name:   w.Name(),
				Shape:  w.Shape(),
				SHA256: hex.EncodeToString(sum[:]),
				Offset: blob.Len(),
				Size:   len(data),
			})
			blob.Write(data)
		}
		meta.Nodes = append(meta.Nodes, pn)
	}

	doc, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("plan: marshal metadata: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "%s\n%d\n", planMagic, len(doc))
	out.Write(doc)
	out.Write(blob.Bytes())

	p.log.Info("plan compiled",
		"build_id", meta.BuildID,
		"nodes", len(meta.Nodes),
		"weight_bytes", blob.Len(),
		"artifact_bytes", out.Len())
	return out.Bytes(), nil
}

// Calibrate derives coarse dynamic ranges from parameter statistics: each
// float32 node output is bounded by the widest absolute parameter value
// feeding its node, floored at one. Batch contents are not inspected, so the
// result is the same for any non-empty source; the source only gates that at
// least one representative batch exists. Real accelerator backends observe
// activations instead.
func (p *Plan) Calibrate(ctx context.Context, g *graph.Graph, src calib.Source) (map[string]float32, error) {
	batches := 0
	for {
		_, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("plan: read calibration batch: %w", err)
		}
		batches++
	}
	if batches == 0 {
		return nil, fmt.Errorf("plan: no calibration batches supplied")
	}

	ranges := make(map[string]float32)
	for _, n := range g.Nodes() {
		bound := float32(1)
		for _, w := range n.Weights {
			if w.DType() != tensor.F32 {
				continue
			}
			for _, v := range w.Float32s() {
				if a := float32(math.Abs(float64(v))); a > bound {
					bound = a
				}
			}
		}
		for i := 0; i < n.NumOutputs(); i++ {
			out := n.Output(i)
			if out.DType() != graph.Float32 {
				continue
			}
			ranges[out.Name()] = bound
		}
	}

	p.log.Info("plan calibration complete", "batches", batches, "tensors", len(ranges))
	return ranges, nil
}

func refMeta(ref *graph.TensorRef) planTensor {
	pt := planTensor{
		Name:  ref.Name(),
		Shape: ref.Shape(),
		DType: ref.DType().String(),
	}
	if dr := ref.DynamicRange(); dr != nil {
		pt.Range = rangeHex(dr.Max)
	}
	return pt
}

func rangeHex(max float32) string {
	return fmt.Sprintf("%08x", math.Float32bits(max))
}
