package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/ipc"
	"github.com/patinas/ScreenPulse/internal/session"
)

var ctlCmd = &cobra.Command{
	Use:   "ctl <start|stop|split|pause|resume|quit>",
	Short: "Send a control command to the running recorder daemon",
	Long: `Drop a command into the recorder's command file. The daemon picks it
up within a second:

  start   begin a recording now, regardless of activity
  stop    stop the current recording; auto-start re-arms on fresh input
  split   rotate the current recording into a new file
  pause   disable activity-triggered starts (current recording continues)
  resume  re-enable activity-triggered starts
  quit    shut the daemon down gracefully`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ok := session.ParseCommand(args[0])
		if !ok {
			return fmt.Errorf("unknown command %q (want start, stop, split, pause, resume or quit)", args[0])
		}
		if err := ipc.WriteCommand(ipc.DefaultDir(), c); err != nil {
			return err
		}
		cmd.Printf("Sent %q to the recorder daemon.\n", c)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ctlCmd)
}
