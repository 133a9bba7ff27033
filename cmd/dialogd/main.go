// Command dialogd records voice conversations and searches what was indexed.
//
// Usage:
//
//	# Replay a recorded session into the configured index
//	dialogd replay session.yaml
//
//	# Search indexed turns
//	dialogd search "weather in lisbon" --limit 5
//
//	# Serve live sessions over HTTP
//	dialogd serve --port 9090
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "dialogd",
		Short: "Conversation log with background indexing",
		Long: `dialogd keeps the transcript of a turn-based voice conversation and
indexes finalized turns in the background.

Configuration is read from ~/.config/dialogd/config.yaml (or --config) and
DIALOGD_* environment variables.`,
		Version:      fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newReplayCmd(&cfgPath))
	root.AddCommand(newSearchCmd(&cfgPath))
	root.AddCommand(newServeCmd(&cfgPath))
	return root
}
