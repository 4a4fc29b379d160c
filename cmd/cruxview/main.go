package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tobert/cruxview/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "cruxview",
		Usage:   "Chrome UX Report explorer: web dashboard, MCP tools and OTLP export",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(version),
			cli.QueryCommand(),
			cli.ExportCommand(),
			cli.DoctorCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
