package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Func is the behavior of an action. Returning a non-nil error marks the
// action Failed. Anything written to out is captured as the action's output
// and forwarded to Hooks.ActionOutput chunk by chunk.
type Func func(ctx context.Context, out io.Writer) (any, error)

// Action is a unit of work plus its declared dependencies.
// Identity is pointer identity: two actions with the same label are distinct.
type Action struct {
	label string
	fn    Func

	mu   sync.Mutex
	deps []*Action
}

// NewAction creates an action. A nil fn is a no-op that succeeds with a nil value.
func NewAction(label string, fn Func) *Action {
	return &Action{label: label, fn: fn}
}

// Label returns the display label passed to NewAction.
func (a *Action) Label() string {
	return a.label
}

// Behavior returns the Func passed to NewAction, which may be nil.
func (a *Action) Behavior() Func {
	return a.fn
}

// DependOn adds dependencies to be executed before this action.
// Nil and already-declared dependencies are ignored.
func (a *Action) DependOn(deps ...*Action) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, dep := range deps {
		if dep == nil || a.hasDependency(dep) {
			continue
		}
		a.deps = append(a.deps, dep)
	}
}

func (a *Action) hasDependency(dep *Action) bool {
	for _, d := range a.deps {
		if d == dep {
			return true
		}
	}
	return false
}

// Dependencies returns the declared dependencies in declaration order.
func (a *Action) Dependencies() []*Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Action(nil), a.deps...)
}

func (a *Action) String() string {
	if a.label != "" {
		return a.label
	}
	return fmt.Sprintf("action(%p)", a)
}

func (a *Action) call(ctx context.Context, out io.Writer) (any, error) {
	if a.fn == nil {
		return nil, nil
	}
	return a.fn(ctx, out)
}
