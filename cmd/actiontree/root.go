package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aristath/actiontree/internal/config"
	"github.com/aristath/actiontree/internal/logging"
)

// options holds the persistent flags and the configuration they resolve to.
type options struct {
	verbosity   int
	historyPath string
	cfg         *config.Config
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "actiontree",
		Short: "Run dependency graphs of actions in parallel",
		Long: `actiontree executes a plan: a set of actions (commands, file operations,
sleeps) and the dependencies between them. Independent actions run in
parallel, each action starts only once all of its dependencies succeeded,
and every run is recorded in a local history.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("history") {
				cfg.HistoryPath = opts.historyPath
			}
			opts.cfg = cfg

			// A full-screen view owns the terminal, so logs go to the file only
			console := cmd.ErrOrStderr()
			if flagSet(cmd, "tui") {
				console = nil
			}
			logging.SetupLoggerTo(max(opts.verbosity, cfg.Verbosity), console)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	rootCmd.PersistentFlags().StringVar(&opts.historyPath, "history", "", "History database (default from config; empty disables)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newPreviewCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)

	return rootCmd
}

// flagSet reports whether the boolean flag name exists on cmd and is true.
func flagSet(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Value.String() == "true"
}
