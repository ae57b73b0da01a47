package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aristath/actiontree/internal/config"
	"github.com/aristath/actiontree/internal/events"
	"github.com/aristath/actiontree/internal/logging"
	"github.com/aristath/actiontree/internal/metrics"
	"github.com/aristath/actiontree/internal/orchestrator"
	"github.com/aristath/actiontree/internal/persistence"
	"github.com/aristath/actiontree/internal/tui"
)

type runFlags struct {
	jobs        int
	keepGoing   bool
	useTUI      bool
	metricsAddr string
	metricsFile string
	noHistory   bool
}

func newRunCmd(opts *options) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run PLAN",
		Short: "Execute a plan",
		Long: `Execute the actions of a plan file (.json, .yaml, .yml or .hcl).

By default the first failure stops the run: running actions finish and
nothing new starts. With --keep-going only the dependents of a failed action
are canceled and independent branches carry on.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.cfg
			if cmd.Flags().Changed("jobs") {
				cfg.Jobs = flags.jobs
			}
			if cmd.Flags().Changed("keep-going") {
				cfg.KeepGoing = flags.keepGoing
			}
			if flags.noHistory {
				cfg.HistoryPath = ""
			}
			return runPlan(cmd, &cfg, args[0], flags)
		},
	}

	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 1, "Actions running at once (-1: CPU count + 1)")
	cmd.Flags().BoolVarP(&flags.keepGoing, "keep-going", "k", false, "Cancel only the dependents of a failed action")
	cmd.Flags().BoolVar(&flags.useTUI, "tui", false, "Show the run in a full-screen view")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", false, "Do not record the run in the history")

	return cmd
}

func runPlan(cmd *cobra.Command, cfg *config.Config, planPath string, flags *runFlags) error {
	done := logging.LogOperationStart(log.Logger, "run")
	defer done()

	plan, err := config.LoadPlan(planPath)
	if err != nil {
		return err
	}

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rc := orchestrator.NewRunnerConfig(cfg, logging.GetLogger("runner"))

	if cfg.HistoryPath != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()
		rc.Store = store
	}

	if flags.metricsAddr != "" || flags.metricsFile != "" {
		rc.Metrics = metrics.NewHooks()
	}
	if flags.metricsAddr != "" {
		shutdown, err := serveMetrics(flags.metricsAddr, rc.Metrics)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var bus *events.EventBus
	if flags.useTUI {
		bus = events.NewEventBus()
		defer bus.Close()
		rc.Bus = bus
	}

	runner := orchestrator.NewRunner(rc)
	compiled, err := runner.Compile(plan)
	if err != nil {
		return err
	}

	// Kill all tracked subprocesses once a signal arrives
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			log.Warn().Msg("Shutdown signal received, cleaning up...")
			if err := runner.Kit().Processes.KillAll(); err != nil {
				log.Error().Err(err).Msg("Failed to kill subprocesses")
			}
		case <-finished:
		}
	}()

	run := func() (*orchestrator.Result, error) {
		return runner.Run(runCtx, compiled.Root, compiled.KeyOf, planPath)
	}

	var result *orchestrator.Result
	var runErr error
	if flags.useTUI {
		globalPath, _ := config.GlobalPath()
		model := tui.New(bus, cfg, globalPath, config.ProjectPath, cancel)
		result, runErr = runWithTUI(ctx, model, run)
	} else {
		result, runErr = run()
	}

	if result == nil {
		return runErr
	}

	if rc.Metrics != nil && flags.metricsFile != "" {
		if err := rc.Metrics.WriteTextfile(flags.metricsFile); err != nil {
			log.Error().Err(err).Msg("Failed to write metrics file")
		}
	}
	if bus != nil && bus.Dropped() > 0 {
		log.Debug().Int64("dropped", bus.Dropped()).Msg("View skipped events")
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, tui.RenderReport(result.Report, compiled.KeyOf))
	if rc.Store != nil && result.ArchiveErr == nil {
		fmt.Fprintf(out, "Recorded as run %s\n", result.RunID)
	}

	return runErr
}

// runWithTUI drives the full-screen view while run executes. The view
// outlives the run until the user quits; quitting early cancels the run.
func runWithTUI(ctx context.Context, model tui.Model, run func() (*orchestrator.Result, error)) (*orchestrator.Result, error) {
	type outcome struct {
		result *orchestrator.Result
		err    error
	}

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	outcomeChan := make(chan outcome, 1)
	go func() {
		result, err := run()
		outcomeChan <- outcome{result, err}
	}()

	select {
	case err := <-errChan:
		// Normal exit (the user pressed 'q')
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error().Err(err).Msg("TUI exit error")
		}
	case <-ctx.Done():
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		select {
		case <-errChan:
		case <-shutdownCtx.Done():
			log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
		}
	}

	o := <-outcomeChan
	return o.result, o.err
}

// serveMetrics exposes h on addr until the returned function is called.
func serveMetrics(addr string, h *metrics.Hooks) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics: %w", err)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	})
	mux.Handle("/metrics", h.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
