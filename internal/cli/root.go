package cli

import (
	"github.com/actiongraph/actiongraph/internal/logging"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "actiongraph",
	Short: "Assemble content-addressed build action graphs",
	Long: `Actiongraph assembles the per-platform subgraphs emitted by a build
configurator into one deduplicated, content-addressed action graph.

It provides:
  • Parallel configuration of host tools, PIC and non-PIC targets
  • Merging, reachability stripping and chain collapsing
  • Output filtering and collision renaming with uid propagation`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel, logFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "Log format (text, json, auto)")

	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(stripCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
