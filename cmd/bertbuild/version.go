package main

import (
	"context"
	"fmt"

	"github.com/mlforge/bertbuild/internal/version"
	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println("bertbuild", version.String())
			return nil
		},
	}
}
