package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/skillloop/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpCmd serves the skill tools over stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve skill tools to an MCP client over stdio",
	Long: `Run an MCP server on stdin/stdout exposing the skill store:

  skill_search    rank learned skills for a task and files
  skill_get       fetch one skill with its effectiveness
  skill_pending   list skills not yet promoted
  skill_promote   promote a skill that meets the criteria
  skill_stats     aggregate store statistics
  review_pending  list review signals awaiting a result
  review_submit   deliver a reviewer result for a signal

With review.nats_url set, the review tools see signals from loops in other
processes and forward submitted results back to them.

Logs go to stderr; logging.output.stdout must stay off.

Examples:
  # Register with an MCP client
  claude mcp add skillloop -- skillloop mcp

  # Use a specific config
  skillloop mcp --config /etc/skillloop/config.yaml`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Logging.Output.Stdout {
		return errors.New("logging.output.stdout must be disabled for the stdio transport")
	}
	if err := a.connectReview(); err != nil {
		return err
	}
	if err := a.watchStore(ctx); err != nil {
		return err
	}

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "skillloop",
		Version: version,
		Logger:  a.zap().Named("mcp"),
		Meter:   a.telemetry.Meter("github.com/fyrsmithlabs/skillloop/internal/mcp"),
	}, a.store, a.gate, a.reviews())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Run(ctx)
}
