package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconveyor/conveyor/pkg/stores"
)

func newHistoryCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded executions",
	}
	cmd.AddCommand(newHistoryListCommand(version))
	cmd.AddCommand(newHistoryPruneCommand(version))
	return cmd
}

func historyStore(ctx context.Context, version string) (*stores.SQLiteStore, error) {
	rt, err := setupRuntime(version)
	if err != nil {
		return nil, err
	}
	if rt.cfg.Store.Path == "" {
		return nil, fmt.Errorf("no store.path configured; execution history is disabled")
	}
	return openStore(ctx, rt.cfg.Store.Path)
}

func newHistoryListCommand(version string) *cobra.Command {
	var (
		moduleID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context(), version)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := stores.ExecutionFilter{}
			if moduleID != "" {
				filter.ModuleID = &moduleID
			}

			executions, err := store.ListExecutions(cmd.Context(), filter, limit, 0)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tMODULE\tSTATUS\tCODE\tATTEMPTS\tDURATION\tENV\tREQUEST")
			for _, e := range executions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%dms\t%s\t%s\n",
					e.StartedAt.Format(time.RFC3339),
					e.ModuleID, e.Status, e.ErrorCode, e.Attempts, e.DurationMS,
					e.Environment, e.RequestID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&moduleID, "module", "", "filter by module id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to list")

	return cmd
}

func newHistoryPruneCommand(version string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete executions older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := historyStore(cmd.Context(), version)
			if err != nil {
				return err
			}
			defer store.Close()

			pruned, err := store.PruneExecutions(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d executions\n", pruned)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff for deletion")
	return cmd
}
