package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/diaglog"
)

var diagDest string

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Export the diagnostic log as a shareable NDJSON bundle",
	Long: `Diag bundles the debug log into a single NDJSON file for bug reports.
The first line is metadata (version, platform, entry count), the rest is
the log verbatim. Debug logging must have been enabled with
SCREENPULSE_DEBUG=true for there to be anything to export.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diaglog.Version = Version
		path, n, err := diaglog.Export(diaglog.DefaultPath(), diagDest)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Run with SCREENPULSE_DEBUG=true to enable logging first.")
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s (%d lines)\n", path, n)
		return nil
	},
}

func init() {
	diagCmd.Flags().StringVar(&diagDest, "dest", ".", "directory for the export bundle")
	rootCmd.AddCommand(diagCmd)
}
