package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mlforge/bertbuild/internal/logger"
	"github.com/urfave/cli/v3"
)

var (
	checkpointPath  string
	modelConfigPath string
	logLevel        string
	logFormat       string
	debug           bool
)

func checkpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"ckpt"},
			Usage:       "path to the ensemble checkpoint (safetensors)",
			Destination: &checkpointPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "model-config",
			Aliases:     []string{"config"},
			Usage:       "path to the ensemble config JSON",
			Destination: &modelConfigPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// buildLogger constructs the command logger from the logging flags.
func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	if logFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Pretty(os.Stderr, level)
}

// parseBatchSizes splits a comma-separated batch-size list such as "1,4,8".
func parseBatchSizes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid batch size %q", p)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no batch sizes in %q", s)
	}
	return sizes, nil
}
