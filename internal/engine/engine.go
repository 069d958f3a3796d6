// Package engine defines the compilation backend contract and bundles the
// portable plan backend. A backend consumes a finished graph whole and
// produces an opaque engine artifact.
package engine

import (
	"context"

	"github.com/mlforge/bertbuild/internal/calib"
	"github.com/mlforge/bertbuild/internal/graph"
)

// CompileOptions carry the build-wide switches a backend honors.
type CompileOptions struct {
	// WorkspaceSizeMiB bounds the scratch memory the backend may plan with.
	WorkspaceSizeMiB int

	FP16   bool
	Int8   bool
	Strict bool

	// DynamicRanges are post-training calibration ranges by tensor name,
	// empty for fp32/fp16 and quantization-aware builds where ranges ride
	// on the graph itself.
	DynamicRanges map[string]float32
}

// Backend compiles an assembled graph into an engine artifact. Compile is a
// blocking call; cancellation goes through the context.
type Backend interface {
	Name() string
	Compile(ctx context.Context, g *graph.Graph, opts CompileOptions) ([]byte, error)

	// Calibrate derives per-tensor dynamic ranges by observing
	// representative batches. Backends without calibration support return
	// an error.
	Calibrate(ctx context.Context, g *graph.Graph, src calib.Source) (map[string]float32, error)
}
