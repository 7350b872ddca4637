// Package main implements the skillloop CLI: it runs quality-driven
// improvement loops, serves the learned-skill store over HTTP and MCP, and
// manages skills from the command line.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default ~/.config/skillloop/config.yaml
	configPath string
	// jsonOutput switches command output to JSON
	jsonOutput bool
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "skillloop",
	Short: "Quality-driven improvement loops that learn reusable skills",
	Long: `skillloop drives a work performer through repeated iterations until its
output meets a quality threshold, records per-iteration feedback, and
distills successful sessions into learned skills that are injected into
later runs.

Examples:
  # Run a loop with an external performer
  skillloop run --task "add input validation" --performer ./perform.sh

  # Serve the skill store over HTTP
  skillloop serve

  # Serve the skill store to an MCP client over stdio
  skillloop mcp

  # Inspect learned skills
  skillloop skills list`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/skillloop/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
}
