package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/apikey"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the Gemini API key in the OS keyring",
}

var keySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the API key in the OS keyring (reads one line from stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Print("API key: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read API key: %w", err)
		}
		if err := apikey.Set(strings.TrimSpace(line)); err != nil {
			return err
		}
		cmd.Println("API key stored in the OS keyring.")
		return nil
	},
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show where the API key comes from (masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, source, err := apikey.Resolve()
		if err != nil {
			return err
		}
		if key == "" {
			cmd.Printf("No API key configured (checked $%s and the OS keyring).\n", apikey.EnvVar)
			return nil
		}
		cmd.Printf("%s (from %s)\n", apikey.Mask(key), source)
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the API key from the OS keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apikey.Clear(); err != nil {
			return err
		}
		cmd.Println("API key removed from the OS keyring.")
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyClearCmd)
	rootCmd.AddCommand(keyCmd)
}
