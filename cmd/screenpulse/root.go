package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

// cfg holds the loaded configuration, populated in PersistentPreRunE.
var cfg *config.Config

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "screenpulse",
	Short: "Activity-driven screen recorder with AI summaries",
	Long: `ScreenPulse records your screen whenever you are actually using the
machine: input activity starts a recording, sustained inactivity stops
it, and long sessions are split into fixed-length files. A companion
analyzer daemon summarizes finished recordings into Markdown notes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Version and diag work even with a broken config file.
		if cmd.Name() == "version" || cmd.Name() == "diag" {
			return nil
		}
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file (default ~/.config/screenpulse/config.json)")
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
