package scheduler

// Hooks observes the lifecycle of the actions in a run. The scheduler calls
// hooks one at a time, never concurrently, from inside its bookkeeping
// section. For a given action the order is ready, started, output (zero or
// more), then exactly one of successful, failed or canceled. A canceled action
// may or may not have been ready first, but was never started.
//
// Embed NopHooks to implement only some of the methods.
type Hooks interface {
	ActionReady(a *Action)
	ActionStarted(a *Action)
	ActionSuccessful(a *Action, value any)
	ActionFailed(a *Action, err error)
	ActionCanceled(a *Action)
	ActionOutput(a *Action, chunk []byte)
}

// NopHooks implements Hooks with no-ops.
type NopHooks struct{}

func (NopHooks) ActionReady(*Action)           {}
func (NopHooks) ActionStarted(*Action)         {}
func (NopHooks) ActionSuccessful(*Action, any) {}
func (NopHooks) ActionFailed(*Action, error)   {}
func (NopHooks) ActionCanceled(*Action)        {}
func (NopHooks) ActionOutput(*Action, []byte)  {}

// MultiHooks forwards every event to each of its hooks, in order.
// Nil entries are skipped.
type MultiHooks []Hooks

func (m MultiHooks) ActionReady(a *Action) {
	for _, h := range m {
		if h != nil {
			h.ActionReady(a)
		}
	}
}

func (m MultiHooks) ActionStarted(a *Action) {
	for _, h := range m {
		if h != nil {
			h.ActionStarted(a)
		}
	}
}

func (m MultiHooks) ActionSuccessful(a *Action, value any) {
	for _, h := range m {
		if h != nil {
			h.ActionSuccessful(a, value)
		}
	}
}

func (m MultiHooks) ActionFailed(a *Action, err error) {
	for _, h := range m {
		if h != nil {
			h.ActionFailed(a, err)
		}
	}
}

func (m MultiHooks) ActionCanceled(a *Action) {
	for _, h := range m {
		if h != nil {
			h.ActionCanceled(a)
		}
	}
}

func (m MultiHooks) ActionOutput(a *Action, chunk []byte) {
	for _, h := range m {
		if h != nil {
			h.ActionOutput(a, chunk)
		}
	}
}
