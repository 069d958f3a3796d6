package builder

import (
	"context"
	"fmt"
	"os"

	"github.com/mlforge/bertbuild/internal/calib"
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/graph"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/weights"
)

// RangeCalibrator derives per-tensor dynamic ranges by running
// representative batches through an assembled graph. The bundled plan
// backend and real accelerator backends both satisfy it.
type RangeCalibrator interface {
	Calibrate(ctx context.Context, g *graph.Graph, src calib.Source) (map[string]float32, error)
}

// CalibrationDriver produces the dynamic-range table for a post-training
// int8 build. An existing cache file is reused as-is; otherwise ranges are
// derived over a nested fp32 build at batch size one and persisted.
type CalibrationDriver struct {
	CachePath string
	Source    calib.Source
	Backend   RangeCalibrator
	Log       logger.Logger
}

// Ranges returns the dynamic-range table, deriving and caching it when the
// cache file does not exist yet. Without a cache file or calibration data
// the int8 build cannot proceed and CalibrationUnavailableError is
// returned.
func (d *CalibrationDriver) Ranges(ctx context.Context, models []*config.Model,
	wm *weights.Map, seqLen int) (map[string]float32, error) {

	if d.CachePath != "" {
		if _, err := os.Stat(d.CachePath); err == nil {
			ranges, err := calib.ReadCacheFile(d.CachePath)
			if err != nil {
				return nil, fmt.Errorf("read calibration cache: %w", err)
			}
			d.Log.Info("reusing calibration cache", "path", d.CachePath, "tensors", len(ranges))
			return ranges, nil
		}
	}

	if d.Source == nil {
		return nil, &CalibrationUnavailableError{
			Reason: "no quantization-aware checkpoint entries, no calibration cache, no calibration data",
		}
	}
	if d.Backend == nil {
		return nil, &CalibrationUnavailableError{Reason: "backend does not support calibration"}
	}

	// Range derivation runs over an isolated fp32 assembly so quantized
	// operators never feed the statistics. The main build's configs are
	// untouched.
	calibModels := make([]*config.Model, len(models))
	for i, m := range models {
		calibModels[i] = m.ForCalibration()
	}
	gb, err := New(calibModels, wm, d.Log, Options{
		SequenceLength: seqLen,
		BatchSizes:     []int{1},
	})
	if err != nil {
		return nil, fmt.Errorf("calibration build: %w", err)
	}
	g, err := gb.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("calibration build: %w", err)
	}

	d.Log.Info("deriving calibration ranges", "nodes", g.NumNodes())
	ranges, err := d.Backend.Calibrate(ctx, g, d.Source)
	if err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}

	if d.CachePath != "" {
		if err := calib.WriteCacheFile(d.CachePath, ranges); err != nil {
			return nil, fmt.Errorf("write calibration cache: %w", err)
		}
		d.Log.Info("calibration cache written", "path", d.CachePath, "tensors", len(ranges))
	}
	return ranges, nil
}
