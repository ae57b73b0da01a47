package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/actiontree/internal/config"
	"github.com/aristath/actiontree/internal/orchestrator"
	"github.com/aristath/actiontree/internal/scheduler"
)

func newPreviewCmd(opts *options) *cobra.Command {
	var showIDs bool

	cmd := &cobra.Command{
		Use:   "preview PLAN",
		Short: "List a plan's actions in a possible execution order",
		Long: `Print the labels of a plan's actions in an order they could execute in,
dependencies first. Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.LoadPlan(args[0])
			if err != nil {
				return err
			}
			compiled, err := orchestrator.Compile(plan, nil, orchestrator.RetryFromConfig(opts.cfg.Retry))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !showIDs {
				labels, err := scheduler.Preview(compiled.Root)
				if err != nil {
					return err
				}
				for _, label := range labels {
					fmt.Fprintln(out, label)
				}
				return nil
			}

			order, err := scheduler.PossibleExecutionOrder(compiled.Root)
			if err != nil {
				return err
			}
			for _, a := range order {
				key := compiled.KeyOf(a)
				if key == orchestrator.AllKey {
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", key, a.Label())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showIDs, "ids", false, "Print action IDs next to the labels")
	return cmd
}
