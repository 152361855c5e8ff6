// Package main provides the entry point for the clipscribe CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipscribe/clipscribe/cmd/clipscribe/commands"
	"github.com/clipscribe/clipscribe/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "clipscribe",
		Short: "Clipscribe - media transcription client",
		Long: `Clipscribe downloads media, uploads it to a transcription service in
resumable chunks, and waits for the transcript.

Commands:
  run       Transcribe a media URL end to end
  status    Check service reachability
  config    Inspect or create the configuration file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	// Add commands.
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(commands.NewResultCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "clipscribe %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
