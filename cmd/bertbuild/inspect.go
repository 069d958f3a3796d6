package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/mlforge/bertbuild/internal/checkpoint"
	"github.com/mlforge/bertbuild/internal/config"
	"github.com/mlforge/bertbuild/internal/inspect"
	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/mlforge/bertbuild/internal/weights"
	"github.com/urfave/cli/v3"
)

func inspectCmd() *cli.Command {
	var (
		serve       bool
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the tensors of an ensemble checkpoint",
		Flags: append(append(checkpointFlags(), loggingFlags()...),
			&cli.BoolFlag{
				Name:        "serve",
				Usage:       "serve the inspection API over HTTP instead of printing",
				Destination: &serve,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8844",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfgFile := LoadConfig()
			applyInspectConfig(cmd, cfgFile, &addr)
			log := buildLogger()

			src, err := checkpoint.Open(checkpointPath)
			if err != nil {
				return err
			}

			// The repacked size dump needs the model config; without one
			// the service still lists raw checkpoint tensors.
			var wm *weights.Map
			if modelConfigPath != "" {
				raw, err := os.ReadFile(modelConfigPath)
				if err != nil {
					return fmt.Errorf("read model config: %w", err)
				}
				models, err := config.LoadEnsemble(raw, config.Flags{})
				if err != nil {
					return err
				}
				wm, err = weights.Load(src, models, log)
				if err != nil {
					return err
				}
			}

			service := inspect.NewService(src, wm, log)
			if !serve {
				return service.WriteListing(os.Stdout)
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			service.Register(e)
			log.Info("starting inspection server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(logger.WithContext(ctx, log), e)
		},
	}
}
