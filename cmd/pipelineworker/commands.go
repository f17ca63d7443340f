package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command, the only long-running mode
// this binary has: there is no interactive shell, only the drain loop.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the drain worker pool",
		Long: `Start the drain worker pool with all configured collaborators:

1. Load configuration from the given file, overlaid with the AI_AGENT_*
   environment variables.
2. Open the Postgres and Redis connections.
3. Construct the pipeline (dedup registry, tool runtime, LLM provider,
   realtime emitter) and the per-job drain worker built on top of it.
4. Start the process-wide worker pool consuming the Redis Streams job
   queue, the gRPC health surface, and the Prometheus metrics server.
5. Block until SIGINT/SIGTERM, then drain in-flight work and shut down in
   reverse startup order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pipelineworker.yaml", "Path to YAML configuration file")
	return cmd
}
