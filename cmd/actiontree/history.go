package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/actiontree/internal/persistence"
	"github.com/aristath/actiontree/internal/tui"
)

var errHistoryDisabled = errors.New("history is disabled (no history_path configured)")

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store persistence.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderHistory(runs))
				return nil
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the actions of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store persistence.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderRun(run))
				return nil
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm RUN_ID...",
		Short: "Delete recorded runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(store persistence.Store) error {
				var errs []error
				for _, id := range args {
					if err := store.DeleteRun(cmd.Context(), id); err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.AddCommand(listCmd, showCmd, rmCmd)
	return cmd
}

func withStore(cmd *cobra.Command, opts *options, fn func(persistence.Store) error) error {
	if opts.cfg.HistoryPath == "" {
		return errHistoryDisabled
	}
	store, err := persistence.NewSQLiteStore(cmd.Context(), opts.cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()
	return fn(store)
}
