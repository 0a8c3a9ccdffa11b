package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openconveyor/conveyor/pkg/browser"
)

func newSessionsCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage pooled browser sessions",
	}
	cmd.AddCommand(newSessionsLaunchCommand(version))
	return cmd
}

func newSessionsLaunchCommand(version string) *cobra.Command {
	var (
		sessionID string
		headed    bool
		hold      bool
	)

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch a browser session and print its attach handle",
		Long: `Launches a pooled browser session and prints the (session_id,
ws_endpoint, session_token) triple. Remote tools attach over CDP with the
token; the engine stays up while this command runs with --hold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(version)
			if err != nil {
				return err
			}
			defer rt.tel.Shutdown(context.Background())

			manager := browser.NewManager(browser.Options{
				MaxSessions:   rt.cfg.Browser.MaxSessions,
				IdleTimeout:   rt.cfg.Browser.IdleTimeout.Std(),
				SweepInterval: rt.cfg.Browser.SweepInterval.Std(),
				Telemetry:     rt.tel,
			})
			defer manager.Shutdown(context.Background())

			handle, err := manager.CreateSession(cmd.Context(), sessionID, browser.SessionOptions{
				Headed: headed,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(handle); err != nil {
				return err
			}

			if !hold {
				return nil
			}

			w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tHEADLESS\tCREATED")
			for _, info := range manager.ListSessions() {
				fmt.Fprintf(w, "%s\t%t\t%s\n", info.SessionID, info.Headless, info.CreatedAt.Format("15:04:05"))
			}
			w.Flush()
			fmt.Fprintln(os.Stderr, "holding session open, interrupt to close")

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "id", "", "session id (default: generated)")
	cmd.Flags().BoolVar(&headed, "headed", false, "run with a visible browser window")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the session open until interrupted")

	return cmd
}
