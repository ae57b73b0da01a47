package scheduler

import (
	"sync"
	"time"
)

// ActionStatus is the record of one action in one run. Only the timestamps
// relevant to the reached state are set; the others are zero.
type ActionStatus struct {
	Status      Status
	ReadyTime   time.Time
	StartTime   time.Time
	SuccessTime time.Time
	FailureTime time.Time
	CancelTime  time.Time
	ReturnValue any
	Output      []byte
	Err         error
}

// EndTime returns the time of the terminal transition, or the zero time if
// the action has not finished.
func (s ActionStatus) EndTime() time.Time {
	switch s.Status {
	case StatusSuccessful:
		return s.SuccessTime
	case StatusFailed:
		return s.FailureTime
	case StatusCanceled:
		return s.CancelTime
	}
	return time.Time{}
}

// Duration returns how long the behavior ran. Zero for actions never started.
func (s ActionStatus) Duration() time.Duration {
	end := s.EndTime()
	if s.StartTime.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(s.StartTime)
}

// Entry pairs an action with its status record.
type Entry struct {
	Action *Action
	Node   NodeID
	ActionStatus
}

// Report is the execution record of one run. Only the run that created it
// mutates it. Reads are safe from any goroutine, including during the run
// through Options.OnStart.
type Report struct {
	mu       sync.RWMutex
	graph    *Graph
	statuses []ActionStatus // Indexed by NodeID
}

func newReport(g *Graph) *Report {
	return &Report{
		graph:    g,
		statuses: make([]ActionStatus, g.Len()),
	}
}

// Graph returns the dependency graph the run executed.
func (r *Report) Graph() *Graph {
	return r.graph
}

// Get returns the status record of an action, or false if the action was not
// part of the run.
func (r *Report) Get(a *Action) (ActionStatus, bool) {
	id, ok := r.graph.Lookup(a)
	if !ok {
		return ActionStatus{}, false
	}
	return r.get(id), true
}

// Status returns just the status of an action (StatusPending if unknown).
func (r *Report) Status(a *Action) Status {
	s, _ := r.Get(a)
	return s.Status
}

func (r *Report) get(id NodeID) ActionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.statuses[id]
	s.Output = append([]byte(nil), s.Output...)
	return s
}

// Entries returns every action with its status, in topological order.
func (r *Report) Entries() []Entry {
	order := r.graph.order
	entries := make([]Entry, 0, len(order))
	for _, id := range order {
		entries = append(entries, Entry{
			Action:       r.graph.nodes[id].Action,
			Node:         id,
			ActionStatus: r.get(id),
		})
	}
	return entries
}

// Failures returns the entries of failed actions, in topological order.
func (r *Report) Failures() []Entry {
	var failed []Entry
	for _, e := range r.Entries() {
		if e.Status == StatusFailed {
			failed = append(failed, e)
		}
	}
	return failed
}

// IsSuccess reports whether every action reached StatusSuccessful.
func (r *Report) IsSuccess() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.statuses {
		if s.Status != StatusSuccessful {
			return false
		}
	}
	return true
}

// BeginTime returns the earliest ready time recorded in the run.
func (r *Report) BeginTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var begin time.Time
	for _, s := range r.statuses {
		t := s.ReadyTime
		if t.IsZero() {
			t = s.CancelTime
		}
		if !t.IsZero() && (begin.IsZero() || t.Before(begin)) {
			begin = t
		}
	}
	return begin
}

// EndTime returns the latest terminal time recorded in the run.
func (r *Report) EndTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var end time.Time
	for _, s := range r.statuses {
		if t := s.EndTime(); t.After(end) {
			end = t
		}
	}
	return end
}

func (r *Report) update(id NodeID, fn func(s *ActionStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.statuses[id])
}

func (r *Report) statusOf(id NodeID) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statuses[id].Status
}
