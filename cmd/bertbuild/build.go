package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mlforge/bertbuild/internal/builder"
	"github.com/mlforge/bertbuild/internal/calib"
	"github.com/mlforge/bertbuild/internal/checkpoint"
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/engine"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/weights"
	"github.com/urfave/cli/v3"
)

// fallbackWorkspaceMiB bounds the planner scratch memory when system memory
// cannot be queried.
const fallbackWorkspaceMiB = 5000

func buildCmd() *cli.Command {
	var (
		outputPath    string
		seqLen        int64
		batchSizeList string
		workspaceMiB  int64
		sizesPath     string
		maskedMean    bool

		useFP16          bool
		useInt8          bool
		useStrict        bool
		useFC2Gemm       bool
		useInt8SkipLN    bool
		useInt8MultiHead bool
		useQAT           bool

		calibCache string
		calibData  string
		calibNum   int
	)

	return &cli.Command{
		Name:  "build",
		Usage: "Assemble the ensemble graph and compile an engine artifact",
		Flags: append(append(checkpointFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path for the engine artifact",
				Value:       "model.plan",
				Destination: &outputPath,
			},
			&cli.Int64Flag{
				Name:        "sequence-length",
				Aliases:     []string{"seq-len", "s"},
				Usage:       "fixed sequence length",
				Value:       128,
				Destination: &seqLen,
			},
			&cli.StringFlag{
				Name:        "batch-sizes",
				Aliases:     []string{"b"},
				Usage:       "comma-separated batch sizes, e.g. 1,4,8",
				Value:       "1",
				Destination: &batchSizeList,
			},
			&cli.Int64Flag{
				Name:        "workspace-size",
				Usage:       "planner workspace bound in MiB (0 = detect)",
				Destination: &workspaceMiB,
			},
			&cli.StringFlag{
				Name:        "weight-sizes",
				Usage:       "write a per-weight byte-size JSON dump to this path",
				Destination: &sizesPath,
			},
			&cli.BoolFlag{
				Name:        "masked-mean",
				Usage:       "aggregate submodels by masked mean over sequence outputs instead of pooled concat",
				Destination: &maskedMean,
			},
			&cli.BoolFlag{Name: "fp16", Usage: "build with fp16 compute", Destination: &useFP16},
			&cli.BoolFlag{Name: "int8", Usage: "build with int8 quantization", Destination: &useInt8},
			&cli.BoolFlag{Name: "strict", Usage: "keep requested precisions strict", Destination: &useStrict},
			&cli.BoolFlag{Name: "fc2-gemm", Usage: "use a GEMM-style second feed-forward projection under int8", Destination: &useFC2Gemm},
			&cli.BoolFlag{Name: "int8-skipln", Usage: "run skip-layernorm in int8", Destination: &useInt8SkipLN},
			&cli.BoolFlag{Name: "int8-multihead", Usage: "run fused attention in int8", Destination: &useInt8MultiHead},
			&cli.BoolFlag{Name: "qat", Usage: "checkpoint is quantization-aware trained", Destination: &useQAT},
			&cli.StringFlag{
				Name:        "calib-cache",
				Usage:       "path to the calibration range cache",
				Destination: &calibCache,
			},
			&cli.StringFlag{
				Name:        "calib-data",
				Usage:       "path to pre-tokenized calibration batches (JSON)",
				Destination: &calibData,
			},
			&cli.IntFlag{
				Name:        "calib-num",
				Usage:       "cap on calibration batches (0 = all)",
				Destination: &calibNum,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfgFile := LoadConfig()
			applyBuildConfig(cmd, cfgFile, &seqLen, &batchSizeList, &workspaceMiB, &calibCache)
			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			if modelConfigPath == "" {
				return fmt.Errorf("build: --model-config is required")
			}
			batches, err := parseBatchSizes(batchSizeList)
			if err != nil {
				return err
			}

			rawCfg, err := os.ReadFile(modelConfigPath)
			if err != nil {
				return fmt.Errorf("read model config: %w", err)
			}
			flags := config.Flags{
				FP16:          useFP16,
				Int8:          useInt8,
				Strict:        useStrict,
				FC2Gemm:       useFC2Gemm,
				Int8SkipLN:    useInt8SkipLN,
				Int8MultiHead: useInt8MultiHead,
				QAT:           useQAT,
			}
			models, err := config.LoadEnsemble(rawCfg, flags)
			if err != nil {
				return err
			}

			src, err := checkpoint.Open(checkpointPath)
			if err != nil {
				return err
			}
			wm, err := weights.Load(src, models, log)
			if err != nil {
				return err
			}
			if sizesPath != "" {
				if err := writeSizesDump(wm, sizesPath); err != nil {
					return err
				}
				log.Info("wrote weight size dump", "path", sizesPath)
			}

			backend := engine.NewPlan(log)
			opts := engine.CompileOptions{
				WorkspaceSizeMiB: int(workspaceMiB),
				FP16:             useFP16,
				Int8:             useInt8,
				Strict:           useStrict,
			}
			if opts.WorkspaceSizeMiB <= 0 {
				opts.WorkspaceSizeMiB = defaultWorkspaceMiB()
				log.Debug("workspace size detected", "mib", opts.WorkspaceSizeMiB)
			}

			// Post-training int8 needs a range table before compilation;
			// quantization-aware checkpoints already carry their ranges.
			var ranges map[string]float32
			if useInt8 && !useQAT {
				var calibSrc calib.Source
				if calibData != "" {
					cb, err := calib.LoadFile(calibData, int(seqLen), calibNum)
					if err != nil {
						return err
					}
					calibSrc = calib.NewSliceSource(cb)
				}
				driver := builder.CalibrationDriver{
					CachePath: calibCache,
					Source:    calibSrc,
					Backend:   backend,
					Log:       log,
				}
				ranges, err = driver.Ranges(ctx, models, wm, int(seqLen))
				if err != nil {
					return err
				}
			}

			b, err := builder.New(models, wm, log, builder.Options{
				SequenceLength:      int(seqLen),
				BatchSizes:          batches,
				MaskedMeanAggregate: maskedMean,
			})
			if err != nil {
				return err
			}
			g, err := b.Build(ctx)
			if err != nil {
				return err
			}

			if len(ranges) > 0 {
				matched, err := builder.NewAnnotator(ranges).Apply(g, log)
				if err != nil {
					return err
				}
				log.Info("applied calibration ranges", "matched", matched, "table", len(ranges))
				opts.DynamicRanges = ranges
			}

			data, err := backend.Compile(ctx, g, opts)
			if err != nil {
				return err
			}
			if err := engine.WriteArtifact(outputPath, data); err != nil {
				return err
			}
			log.Info("engine artifact written", "path", outputPath, "bytes", len(data))
			return nil
		},
	}
}

func writeSizesDump(wm *weights.Map, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("weight size dump: %w", err)
	}
	if err := wm.WriteSizes(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
