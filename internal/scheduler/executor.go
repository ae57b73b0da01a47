package scheduler

import (
	"context"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures one run.
type Options struct {
	// Jobs is the maximum number of behaviors running at once. Zero means 1;
	// a negative value means one more than the number of CPUs.
	Jobs int

	// KeepGoing makes a failure cancel only the failed action's dependents
	// instead of stopping the whole run.
	KeepGoing bool

	Hooks  Hooks           // Optional observer
	Logger *zerolog.Logger // Optional, nil disables logging

	// OnStart, if set, receives the run's report before the first action is
	// dispatched. The report may be read from any goroutine while the run is
	// in progress.
	OnStart func(*Report)
}

func (o Options) jobs() int {
	switch {
	case o.Jobs > 0:
		return o.Jobs
	case o.Jobs < 0:
		return runtime.NumCPU() + 1
	}
	return 1
}

// Execute runs the graph reachable from root and returns the root's return
// value. On failure it returns the single failed action's error, or a
// *CompoundError when a keep-going run had several failures.
func Execute(ctx context.Context, root *Action, opts Options) (any, error) {
	report, err := Run(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	s, _ := report.Get(root)
	return s.ReturnValue, nil
}

// Run is Execute, returning the execution report instead of the root's value.
// The report is nil only when the graph failed validation.
func Run(ctx context.Context, root *Action, opts Options) (*Report, error) {
	g, err := Build(root)
	if err != nil {
		return nil, err
	}
	return RunGraph(ctx, g, opts)
}

// RunGraph executes a graph that was already validated by Build. Dependencies
// declared after Build are not part of the run.
//
// A panicking hook stops the run like a failure: nothing new is dispatched,
// output writes fail with io.ErrClosedPipe and running behaviors see their
// context canceled. Once every behavior has returned, RunGraph panics again
// with the hook's value.
func RunGraph(ctx context.Context, g *Graph, opts Options) (*Report, error) {
	r := newRun(g, opts)
	if opts.OnStart != nil {
		opts.OnStart(r.report)
	}
	return r.report, r.execute(ctx)
}

type completion struct {
	id    NodeID
	value any
	err   error
}

// run owns the state of one execution. Everything below mu is only touched
// with mu held; only behaviors run outside of it.
type run struct {
	graph     *Graph
	report    *Report
	hooks     Hooks
	log       zerolog.Logger
	jobs      int
	keepGoing bool
	now       func() time.Time
	done      chan completion

	mu         sync.Mutex
	remaining  []int    // Dependencies not yet successful, per node
	ready      []NodeID // FIFO, so no ready action is starved
	running    int
	stopping   bool
	failures   []error
	writers    []*outputWriter
	abort      context.CancelFunc
	panicked   bool // A hook panicked; hooks are no longer called
	panicValue any
}

func newRun(g *Graph, opts Options) *run {
	r := &run{
		graph:     g,
		report:    newReport(g),
		hooks:     opts.Hooks,
		log:       zerolog.Nop(),
		jobs:      opts.jobs(),
		keepGoing: opts.KeepGoing,
		now:       time.Now,
		done:      make(chan completion, g.Len()),
		remaining: make([]int, g.Len()),
		writers:   make([]*outputWriter, g.Len()),
	}
	if r.hooks == nil {
		r.hooks = NopHooks{}
	}
	if opts.Logger != nil {
		r.log = *opts.Logger
	}
	for id, n := range g.nodes {
		r.remaining[id] = len(n.Dependencies)
	}
	return r
}

func (r *run) execute(parent context.Context) error {
	var g errgroup.Group
	g.SetLimit(r.jobs)

	ctx, abort := context.WithCancel(parent)
	defer abort()
	r.abort = abort

	r.log.Debug().
		Stringer("root", r.graph.Root()).
		Int("actions", r.graph.Len()).
		Int("jobs", r.jobs).
		Bool("keep_going", r.keepGoing).
		Msg("Run started")

	r.mu.Lock()
	for _, id := range r.graph.order {
		if r.remaining[id] == 0 {
			r.markReady(id)
		}
	}
	r.dispatch(ctx, &g)

	ctxDone := parent.Done()
	for r.running > 0 {
		r.mu.Unlock()
		select {
		case c := <-r.done:
			r.mu.Lock()
			r.complete(c)
		case <-ctxDone:
			ctxDone = nil
			r.mu.Lock()
			r.stop("context done")
		}
		r.dispatch(ctx, &g)
	}
	r.cancelRemaining()
	r.mu.Unlock()

	// All behaviors have reported back; this only reaps the goroutines.
	_ = g.Wait()

	if r.panicked {
		r.log.Debug().Interface("panic", r.panicValue).Msg("Run aborted by a hook")
		panic(r.panicValue)
	}

	err := r.outcome(parent)
	r.log.Debug().
		Bool("success", r.report.IsSuccess()).
		Int("failures", len(r.failures)).
		Err(err).
		Msg("Run finished")
	return err
}

// notify calls the observer with mu held. A panic is recorded instead of
// unwinding through the critical section, and stops the run.
func (r *run) notify(call func(Hooks)) {
	if r.panicked {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.panicked = true
			r.panicValue = p
			r.stop("hook panicked")
			for _, w := range r.writers {
				if w != nil {
					w.closed = true
				}
			}
			r.abort()
		}
	}()
	call(r.hooks)
}

func (r *run) dispatch(ctx context.Context, g *errgroup.Group) {
	if !r.stopping && ctx.Err() != nil {
		r.stop("context done")
	}
	for !r.stopping && r.running < r.jobs && len(r.ready) > 0 {
		id := r.ready[0]
		r.ready = r.ready[1:]
		r.start(ctx, g, id)
	}
}

func (r *run) start(ctx context.Context, g *errgroup.Group, id NodeID) {
	a := r.graph.nodes[id].Action
	t := r.now()
	r.report.update(id, func(s *ActionStatus) {
		s.Status = StatusStarted
		s.StartTime = t
	})
	r.running++

	w := &outputWriter{run: r, id: id}
	r.writers[id] = w

	r.log.Debug().Stringer("action", a).Msg("Action started")
	r.notify(func(h Hooks) { h.ActionStarted(a) })

	g.Go(func() error {
		value, err := invoke(ctx, a, w)
		r.done <- completion{id: id, value: value, err: err}
		return nil // Failures are tracked by the run, not the errgroup
	})
}

func invoke(ctx context.Context, a *Action, out io.Writer) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Action: a, Value: p, Stack: debug.Stack()}
		}
	}()
	return a.call(ctx, out)
}

func (r *run) complete(c completion) {
	r.running--
	r.writers[c.id].closed = true

	a := r.graph.nodes[c.id].Action
	t := r.now()

	if c.err != nil {
		r.report.update(c.id, func(s *ActionStatus) {
			s.Status = StatusFailed
			s.FailureTime = t
			s.Err = c.err
		})
		r.failures = append(r.failures, c.err)
		r.log.Debug().Stringer("action", a).Err(c.err).Msg("Action failed")
		r.notify(func(h Hooks) { h.ActionFailed(a, c.err) })

		if r.keepGoing {
			r.cancelDependents(c.id)
		} else {
			r.stop("action failed")
		}
		return
	}

	r.report.update(c.id, func(s *ActionStatus) {
		s.Status = StatusSuccessful
		s.SuccessTime = t
		s.ReturnValue = c.value
	})
	r.log.Debug().Stringer("action", a).Msg("Action successful")
	r.notify(func(h Hooks) { h.ActionSuccessful(a, c.value) })

	if r.stopping {
		return
	}
	for _, depID := range r.graph.nodes[c.id].Dependents {
		r.remaining[depID]--
		if r.remaining[depID] == 0 && r.report.statusOf(depID) == StatusPending {
			r.markReady(depID)
		}
	}
}

func (r *run) markReady(id NodeID) {
	t := r.now()
	r.report.update(id, func(s *ActionStatus) {
		s.Status = StatusReady
		s.ReadyTime = t
	})
	r.ready = append(r.ready, id)
	a := r.graph.nodes[id].Action
	r.notify(func(h Hooks) { h.ActionReady(a) })
}

func (r *run) cancel(id NodeID) {
	t := r.now()
	r.report.update(id, func(s *ActionStatus) {
		s.Status = StatusCanceled
		s.CancelTime = t
	})
	a := r.graph.nodes[id].Action
	r.log.Debug().Stringer("action", a).Msg("Action canceled")
	r.notify(func(h Hooks) { h.ActionCanceled(a) })
}

// cancelDependents cancels everything that transitively depends on id,
// breadth first.
func (r *run) cancelDependents(id NodeID) {
	queue := append([]NodeID(nil), r.graph.nodes[id].Dependents...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		switch r.report.statusOf(next) {
		case StatusPending, StatusReady:
			r.cancel(next)
			queue = append(queue, r.graph.nodes[next].Dependents...)
		}
	}
}

// cancelRemaining cancels every action that was never started.
func (r *run) cancelRemaining() {
	r.ready = nil
	for _, id := range r.graph.order {
		switch r.report.statusOf(id) {
		case StatusPending, StatusReady:
			r.cancel(id)
		}
	}
}

func (r *run) stop(reason string) {
	if r.stopping {
		return
	}
	r.stopping = true
	r.log.Debug().Str("reason", reason).Int("running", r.running).Msg("Run stopping")
}

func (r *run) outcome(ctx context.Context) error {
	switch {
	case len(r.failures) == 0:
		if err := ctx.Err(); err != nil && !r.report.IsSuccess() {
			return err
		}
		return nil
	case len(r.failures) == 1 || !r.keepGoing:
		return r.failures[0]
	default:
		return &CompoundError{
			Errors: append([]error(nil), r.failures...),
			Report: r.report,
		}
	}
}

// outputWriter forwards an action's output through the run's critical
// section. It stops accepting writes once the action has finished.
type outputWriter struct {
	run    *run
	id     NodeID
	closed bool // Guarded by run.mu
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.run.mu.Lock()
	defer w.run.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}

	chunk := append([]byte(nil), p...)
	w.run.report.update(w.id, func(s *ActionStatus) {
		s.Output = append(s.Output, chunk...)
	})
	a := w.run.graph.nodes[w.id].Action
	w.run.notify(func(h Hooks) { h.ActionOutput(a, chunk) })
	return len(p), nil
}
