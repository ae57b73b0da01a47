package orchestrator

import (
	"fmt"

	"github.com/aristath/actiontree/internal/config"
	"github.com/aristath/actiontree/internal/scheduler"
	"github.com/aristath/actiontree/internal/stock"
)

// AllKey is the key of the synthetic root grouping a plan's sinks when the
// plan names no root.
const AllKey = "(all)"

// Compiled is a plan turned into an action graph.
type Compiled struct {
	Root    *scheduler.Action
	actions map[string]*scheduler.Action
	keys    map[*scheduler.Action]string
}

// Action returns the action compiled from the plan entry with the given ID.
func (c *Compiled) Action(id string) (*scheduler.Action, bool) {
	a, ok := c.actions[id]
	return a, ok
}

// KeyOf returns the plan ID of a compiled action, or "" for foreign actions.
func (c *Compiled) KeyOf(a *scheduler.Action) string {
	return c.keys[a]
}

// Compile validates plan and builds its actions on kit. Actions that opt into
// retrying use the backoff settings of retry with their own attempt count.
func Compile(plan *config.Plan, kit *stock.Kit, retry stock.RetryConfig) (*Compiled, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if kit == nil {
		kit = &stock.Kit{}
	}

	c := &Compiled{
		actions: make(map[string]*scheduler.Action, len(plan.Actions)),
		keys:    make(map[*scheduler.Action]string, len(plan.Actions)+1),
	}

	for _, spec := range plan.Actions {
		a, err := compileAction(spec, kit, retry)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", spec.ID, err)
		}
		c.actions[spec.ID] = a
		c.keys[a] = spec.ID
	}

	// Dependencies in declaration order, after every action exists
	for _, spec := range plan.Actions {
		a := c.actions[spec.ID]
		for _, dep := range spec.DependsOn {
			a.DependOn(c.actions[dep])
		}
	}

	if plan.Root != "" {
		c.Root = c.actions[plan.Root]
	} else {
		c.Root = stock.Null()
		c.keys[c.Root] = AllKey
		for _, id := range plan.Sinks() {
			c.Root.DependOn(c.actions[id])
		}
	}

	// Cycles surface here rather than at run time
	if _, err := scheduler.Build(c.Root); err != nil {
		return nil, err
	}

	return c, nil
}

func compileAction(spec config.ActionSpec, kit *stock.Kit, retry stock.RetryConfig) (*scheduler.Action, error) {
	var base *scheduler.Action
	switch spec.Kind {
	case config.KindNull:
		base = stock.Null()
	case config.KindSleep:
		base = stock.Sleep(spec.Duration.Std())
	case config.KindTouch:
		base = kit.TouchFile(spec.Args[0])
	case config.KindMkdir:
		base = kit.CreateDirectory(spec.Args[0])
	case config.KindRm:
		base = kit.DeleteFile(spec.Args[0])
	case config.KindCp:
		base = kit.CopyFile(spec.Args[0], spec.Args[1])
	case config.KindExec:
		base = kit.CallSubprocess(spec.Args...)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", config.ErrInvalidPlan, spec.Kind)
	}

	label := spec.Label
	if label == "" {
		label = base.Label()
	}

	fn := base.Behavior()
	if fn != nil {
		fn = stock.WithTimeout(fn, spec.Timeout.Std())
		if spec.Retry > 1 {
			cfg := retry
			cfg.MaxAttempts = spec.Retry
			fn = stock.Retrying(fn, cfg)
		}
	}

	return scheduler.NewAction(label, fn), nil
}

// RetryFromConfig converts the configured backoff settings.
func RetryFromConfig(cfg config.RetryConfig) stock.RetryConfig {
	return stock.RetryConfig{
		MaxAttempts:         1,
		InitialInterval:     cfg.InitialInterval.Std(),
		MaxInterval:         cfg.MaxInterval.Std(),
		MaxElapsedTime:      cfg.MaxElapsedTime.Std(),
		Multiplier:          cfg.Multiplier,
		RandomizationFactor: cfg.RandomizationFactor,
	}
}
