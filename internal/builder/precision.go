package builder

import (
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
)

// mhaType picks the fused attention precision. Attention stays out of int8
// unless explicitly opted in, and the calibration sub-pass always runs it in
// fp32 so range derivation sees unquantized activations.
func mhaType(cfg *config.Model) graph.DataType {
	dt := graph.Float32
	if cfg.UseFP16 {
		dt = graph.Float16
	}
	if cfg.UseInt8 && cfg.UseInt8MultiHead && !cfg.CalibMode {
		dt = graph.Int8
	}
	return dt
}

// skipLNType picks the fused skip-layernorm precision, gated the same way on
// its own opt-in flag.
func skipLNType(cfg *config.Model) graph.DataType {
	dt := graph.Float32
	if cfg.UseFP16 {
		dt = graph.Float16
	}
	if cfg.UseInt8 && cfg.UseInt8SkipLN && !cfg.CalibMode {
		dt = graph.Int8
	}
	return dt
}

// denseComputeType is the precision the custom fully-connected operator
// computes in.
func denseComputeType(cfg *config.Model) graph.DataType {
	if cfg.UseFP16 {
		return graph.Float16
	}
	return graph.Float32
}

func dataTypePtr(dt graph.DataType) *graph.DataType { return &dt }
