// Package orchestrator ties plans, the scheduler and the run's observers
// together: logging, the event bus, metrics and the history archive.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/actiontree/internal/config"
	"github.com/aristath/actiontree/internal/events"
	"github.com/aristath/actiontree/internal/metrics"
	"github.com/aristath/actiontree/internal/persistence"
	"github.com/aristath/actiontree/internal/scheduler"
	"github.com/aristath/actiontree/internal/stock"
)

// RunnerConfig configures the runner.
type RunnerConfig struct {
	Jobs      int               // Passed to scheduler.Options
	KeepGoing bool              // Passed to scheduler.Options
	Kit       *stock.Kit        // Shared by compiled plans (default: locks and process tracking)
	Retry     stock.RetryConfig // Backoff of plan actions that opt into retrying
	Bus       *events.EventBus  // Optional, receives action and run events
	Store     persistence.Store // Optional, archives every run
	Metrics   *metrics.Hooks    // Optional
	Hooks     scheduler.Hooks   // Optional extra observer
	Logger    zerolog.Logger
}

// NewRunnerConfig derives a runner configuration from the loaded settings.
// Bus, Store, Metrics and Hooks are left for the caller.
func NewRunnerConfig(cfg *config.Config, log zerolog.Logger) RunnerConfig {
	kit := &stock.Kit{
		Locks:     stock.NewPathLocks(),
		Processes: stock.NewProcessManager(),
	}
	if cfg.Breaker.Enabled {
		breakers := stock.NewCircuitBreakerRegistry(log.With().Str("component", "breaker").Logger())
		if cfg.Breaker.Trip > 0 {
			breakers.Trip = cfg.Breaker.Trip
		}
		if cfg.Breaker.Cooldown > 0 {
			breakers.Cooldown = cfg.Breaker.Cooldown.Std()
		}
		kit.Breakers = breakers
	}

	return RunnerConfig{
		Jobs:      cfg.Jobs,
		KeepGoing: cfg.KeepGoing,
		Kit:       kit,
		Retry:     RetryFromConfig(cfg.Retry),
		Logger:    log,
	}
}

// Runner executes action graphs with the configured observers attached.
type Runner struct {
	config RunnerConfig
}

// NewRunner creates a new runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Kit == nil {
		cfg.Kit = &stock.Kit{
			Locks:     stock.NewPathLocks(),
			Processes: stock.NewProcessManager(),
		}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = stock.DefaultRetryConfig()
	}
	return &Runner{config: cfg}
}

// Kit returns the kit compiled plans are built on.
func (r *Runner) Kit() *stock.Kit {
	return r.config.Kit
}

// Compile builds a plan on the runner's kit.
func (r *Runner) Compile(plan *config.Plan) (*Compiled, error) {
	return Compile(plan, r.config.Kit, r.config.Retry)
}

// Result describes one finished run.
type Result struct {
	RunID      string
	Report     *scheduler.Report
	Duration   time.Duration
	ArchiveErr error // Set when the run could not be archived
}

// RunPlan compiles plan and runs it. source names the plan in the archive.
func (r *Runner) RunPlan(ctx context.Context, plan *config.Plan, source string) (*Result, error) {
	c, err := r.Compile(plan)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, c.Root, c.KeyOf, source)
}

// Run executes the graph reachable from root. keyOf names actions in logs,
// events and the archive; nil uses node IDs. The result is nil only when the
// graph is invalid; otherwise the error is the scheduler's verdict on the run.
func (r *Runner) Run(ctx context.Context, root *scheduler.Action, keyOf func(*scheduler.Action) string, source string) (*Result, error) {
	g, err := scheduler.Build(root)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := r.config.Logger.With().Str("run", runID).Logger()

	hooks := scheduler.MultiHooks{NewLogHooks(log, keyOf)}
	if r.config.Bus != nil {
		bus := events.NewBusHooks(r.config.Bus, g, keyOf)
		r.config.Bus.Publish(events.TopicRun, events.RunStartedEvent{
			RunID:     runID,
			Actions:   bus.Actions(),
			Timestamp: time.Now(),
		})
		hooks = append(hooks, bus)
	}
	if r.config.Metrics != nil {
		hooks = append(hooks, r.config.Metrics)
	}
	if r.config.Hooks != nil {
		hooks = append(hooks, r.config.Hooks)
	}

	log.Info().Int("actions", g.Len()).Str("plan", source).Msg("Run started")

	start := time.Now()
	// The bus view and the report share one snapshot of the graph
	report, runErr := scheduler.RunGraph(ctx, g, scheduler.Options{
		Jobs:      r.config.Jobs,
		KeepGoing: r.config.KeepGoing,
		Hooks:     hooks,
		Logger:    &log,
	})
	if report == nil {
		return nil, runErr
	}

	result := &Result{
		RunID:    runID,
		Report:   report,
		Duration: time.Since(start),
	}

	if r.config.Bus != nil {
		r.config.Bus.Publish(events.TopicRun, events.RunFinishedEvent{
			RunID:     runID,
			Success:   runErr == nil,
			Err:       runErr,
			Duration:  result.Duration,
			Timestamp: time.Now(),
		})
	}

	if r.config.Store != nil {
		result.ArchiveErr = r.archive(ctx, runID, report, keyOf, source, runErr)
		if result.ArchiveErr != nil {
			log.Error().Err(result.ArchiveErr).Msg("Failed to archive run")
		}
	}

	if runErr != nil {
		log.Warn().Err(runErr).Dur("duration", result.Duration).Msg("Run failed")
	} else {
		log.Info().Dur("duration", result.Duration).Msg("Run successful")
	}

	return result, runErr
}

func (r *Runner) archive(ctx context.Context, runID string, report *scheduler.Report, keyOf func(*scheduler.Action) string, source string, runErr error) error {
	rec := persistence.NewRunRecord(runID, report, keyOf)
	rec.Plan = source
	rec.Jobs = r.config.Jobs
	rec.KeepGoing = r.config.KeepGoing
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	// An interrupted run is still worth keeping
	return r.config.Store.SaveRun(context.WithoutCancel(ctx), rec)
}
