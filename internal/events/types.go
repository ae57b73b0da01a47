package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	ActionID() string
}

// Topic constants
const (
	TopicAction = "action"
	TopicRun    = "run"
)

// Event type constants
const (
	EventTypeActionReady      = "action.ready"
	EventTypeActionStarted    = "action.started"
	EventTypeActionOutput     = "action.output"
	EventTypeActionSuccessful = "action.successful"
	EventTypeActionFailed     = "action.failed"
	EventTypeActionCanceled   = "action.canceled"
	EventTypeRunStarted       = "run.started"
	EventTypeRunProgress      = "run.progress"
	EventTypeRunFinished      = "run.finished"
)

// ActionReadyEvent is published when all dependencies of an action succeeded.
type ActionReadyEvent struct {
	ID        string
	Label     string
	Timestamp time.Time
}

func (e ActionReadyEvent) EventType() string { return EventTypeActionReady }
func (e ActionReadyEvent) ActionID() string  { return e.ID }

// ActionStartedEvent is published when an action's behavior begins.
type ActionStartedEvent struct {
	ID        string
	Label     string
	Timestamp time.Time
}

func (e ActionStartedEvent) EventType() string { return EventTypeActionStarted }
func (e ActionStartedEvent) ActionID() string  { return e.ID }

// ActionOutputEvent carries one chunk written by a running action.
type ActionOutputEvent struct {
	ID        string
	Chunk     string
	Timestamp time.Time
}

func (e ActionOutputEvent) EventType() string { return EventTypeActionOutput }
func (e ActionOutputEvent) ActionID() string  { return e.ID }

// ActionSuccessfulEvent is published when an action's behavior returned
// without error.
type ActionSuccessfulEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e ActionSuccessfulEvent) EventType() string { return EventTypeActionSuccessful }
func (e ActionSuccessfulEvent) ActionID() string  { return e.ID }

// ActionFailedEvent is published when an action's behavior returned an error.
type ActionFailedEvent struct {
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e ActionFailedEvent) EventType() string { return EventTypeActionFailed }
func (e ActionFailedEvent) ActionID() string  { return e.ID }

// ActionCanceledEvent is published when an action will never start.
type ActionCanceledEvent struct {
	ID        string
	Timestamp time.Time
}

func (e ActionCanceledEvent) EventType() string { return EventTypeActionCanceled }
func (e ActionCanceledEvent) ActionID() string  { return e.ID }

// RunStartedEvent lists the actions of a run in topological order.
type RunStartedEvent struct {
	RunID     string
	Actions   []ActionInfo
	Timestamp time.Time
}

// ActionInfo identifies one action of a run.
type ActionInfo struct {
	ID    string
	Label string
	Deps  []string
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) ActionID() string  { return "" }

// RunProgressEvent is published after every terminal transition.
type RunProgressEvent struct {
	Total      int
	Successful int
	Failed     int
	Canceled   int
	Running    int
	Pending    int // Neither started nor finished, ready ones included
	Timestamp  time.Time
}

// Done reports whether every action reached a terminal state.
func (e RunProgressEvent) Done() bool {
	return e.Successful+e.Failed+e.Canceled == e.Total
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) ActionID() string  { return "" }

// RunFinishedEvent is published once the run returned.
type RunFinishedEvent struct {
	RunID     string
	Success   bool
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) ActionID() string  { return "" }
