package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rosterPath string

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-worker assistant platform",
	Long: `Hive runs a roster of specialist workers behind one chat channel.

With no arguments, starts an interactive chat session. Unaddressed
messages are claimed by the most relevant worker; the coordinator can
delegate to specialists, drive the delivery pipeline, and launch
multi-squad missions for larger jobs.

Core capabilities:
- Routes chat to the worker whose expertise fits best
- Delegates work hub-and-spoke through the coordinator
- Tracks deliverables through a staged pipeline
- Fans missions out to parallel squads and synthesizes a report`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rosterPath, "roster", "", "Path to a roster YAML file (defaults to the built-in roster)")

	rootCmd.AddCommand(missionCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
