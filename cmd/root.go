// Package cmd wires the command line interface: serve runs the HTTP
// server, ask answers a single question, version prints build info.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/verity0/verity/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "verity",
	Short: "Verity answers questions about one organization from its own documentation",
	Long: `Verity is a retrieval augmented assistant scoped to a single
organization. It refuses unrelated questions, grounds every answer in
retrieved documentation and cites its sources.

Run "verity serve" to start the HTTP API, or "verity ask" for a one-off
question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger; serve mode logs JSON, interactive
// commands log text.
func newLogger(json bool) log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: json})
}
