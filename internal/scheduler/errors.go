package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDependencyCycle is matched by every *CycleError.
var ErrDependencyCycle = errors.New("dependency cycle")

// CycleError is returned by Build (and therefore by Run, Execute and the
// dry-run functions) when the graph reachable from the root is not acyclic.
type CycleError struct {
	// Cycle lists the actions along the offending cycle. The first action is
	// repeated at the end.
	Cycle []*Action
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return ErrDependencyCycle.Error()
	}
	names := make([]string, len(e.Cycle))
	for i, a := range e.Cycle {
		names[i] = a.String()
	}
	return fmt.Sprintf("%s: %s", ErrDependencyCycle, strings.Join(names, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// CompoundError is returned by a keep-going run in which more than one action
// failed. A single failure is always returned unwrapped.
type CompoundError struct {
	Errors []error // In the order the failures were recorded
	Report *Report
}

func (e *CompoundError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d actions failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *CompoundError) Unwrap() []error { return e.Errors }

// PanicError records a panic raised by an action's behavior.
type PanicError struct {
	Action *Action
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("action %s panicked: %v", e.Action, e.Value)
}
