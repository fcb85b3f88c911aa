package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/patinas/ScreenPulse/internal/ipc"
	"github.com/patinas/ScreenPulse/internal/session"
)

// staleAfter flags a status snapshot whose daemon has probably died. The
// controller refreshes after every tick, but a stop escalation can hold the
// loop for stop_timeout plus the kill confirmation.
const staleAfter = 30 * time.Second

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorder daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := ipc.ReadStatus(ipc.DefaultDir())
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no status snapshot found; is the recorder running? (screenpulse run)")
			}
			return err
		}
		rendered, err := renderStatus(st, statusJSON, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

// renderStatus formats a status snapshot for the terminal.
func renderStatus(st session.Status, asJSON bool, now time.Time) (string, error) {
	if asJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State:         %s\n", st.State)
	if st.Armed {
		fmt.Fprintf(&b, "Auto-start:    armed\n")
	} else {
		fmt.Fprintf(&b, "Auto-start:    paused\n")
	}
	if st.SessionID != "" {
		fmt.Fprintf(&b, "Session:       %s\n", st.SessionID)
		fmt.Fprintf(&b, "Recording:     %s\n", st.OutputPath)
		fmt.Fprintf(&b, "Backend:       %s (started %s ago)\n", st.Backend, ago(st.StartedAt, now))
	}
	if st.LastActivity.IsZero() {
		fmt.Fprintf(&b, "Last activity: none since daemon start\n")
	} else {
		fmt.Fprintf(&b, "Last activity: %s ago\n", ago(st.LastActivity, now))
	}
	fmt.Fprintf(&b, "Updated:       %s ago (PID %d)\n", ago(st.UpdatedAt, now), st.PID)

	if age := now.Sub(st.UpdatedAt); age > staleAfter {
		fmt.Fprintf(&b, "WARNING: status is %s old; the recorder may not be running\n", age.Round(time.Second))
	}
	return b.String(), nil
}

func ago(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
