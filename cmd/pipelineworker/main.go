// Package main provides the CLI entry point for the conversation AI drain
// worker. It loads configuration, wires the five-stage reply pipeline (C7)
// to its collaborators, and runs the process-wide worker pool (C9) that
// drains per-conversation jobs off the Redis Streams job queue until a
// shutdown signal arrives.
//
// Start the worker:
//
//	pipelineworker serve --config pipelineworker.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipelineworker",
		Short: "Drains queued conversation turns through the AI reply pipeline",
		Long: `pipelineworker runs the drain side of the conversation AI pipeline:
it consumes jobs produced by internal/produce.Producer off a Redis Streams
job queue, runs each one through the five-stage pipeline (intake, decision,
generation, execution, followup), and republishes realtime status events
for the dashboard and widget.`,
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}

	root.AddCommand(buildServeCmd())
	return root
}
