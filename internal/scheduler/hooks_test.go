package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

// eventRecorder records hook calls as (event, label) pairs and flags any
// overlapping calls.
type eventRecorder struct {
	events   [][2]string
	inFlight int32
	overlaps int32
}

func (r *eventRecorder) record(event string, a *Action) {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		atomic.AddInt32(&r.overlaps, 1)
	}
	r.events = append(r.events, [2]string{event, a.Label()})
	time.Sleep(time.Millisecond) // Widen the window for overlapping calls
	atomic.AddInt32(&r.inFlight, -1)
}

func (r *eventRecorder) ActionReady(a *Action)                { r.record("ready", a) }
func (r *eventRecorder) ActionStarted(a *Action)              { r.record("started", a) }
func (r *eventRecorder) ActionSuccessful(a *Action, _ any)    { r.record("successful", a) }
func (r *eventRecorder) ActionFailed(a *Action, _ error)      { r.record("failed", a) }
func (r *eventRecorder) ActionCanceled(a *Action)             { r.record("canceled", a) }
func (r *eventRecorder) ActionOutput(a *Action, chunk []byte) { r.record("output", a) }

func (r *eventRecorder) forAction(label string) []string {
	var events []string
	for _, e := range r.events {
		if e[1] == label {
			events = append(events, e[0])
		}
	}
	return events
}

func TestHooksOneSuccessfulAction(t *testing.T) {
	hooks := &eventRecorder{}
	_, err := Execute(context.Background(), NewAction("a", nil), Options{Hooks: hooks})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	want := [][2]string{{"ready", "a"}, {"started", "a"}, {"successful", "a"}}
	if !reflect.DeepEqual(hooks.events, want) {
		t.Errorf("expected %v, got %v", want, hooks.events)
	}
}

func TestHooksOneFailedAction(t *testing.T) {
	hooks := &eventRecorder{}
	a := NewAction("a", func(context.Context, io.Writer) (any, error) {
		return nil, errors.New("boom")
	})
	_, _ = Execute(context.Background(), a, Options{Hooks: hooks})

	want := [][2]string{{"ready", "a"}, {"started", "a"}, {"failed", "a"}}
	if !reflect.DeepEqual(hooks.events, want) {
		t.Errorf("expected %v, got %v", want, hooks.events)
	}
}

func TestHooksFailedDependency(t *testing.T) {
	hooks := &eventRecorder{}
	a := NewAction("a", nil)
	b := NewAction("b", func(context.Context, io.Writer) (any, error) {
		return nil, errors.New("boom")
	})
	a.DependOn(b)
	_, _ = Execute(context.Background(), a, Options{Hooks: hooks})

	want := [][2]string{{"ready", "b"}, {"started", "b"}, {"failed", "b"}, {"canceled", "a"}}
	if !reflect.DeepEqual(hooks.events, want) {
		t.Errorf("expected %v, got %v", want, hooks.events)
	}
}

func TestHooksOutputBetweenStartAndEnd(t *testing.T) {
	hooks := &eventRecorder{}
	a := NewAction("a", func(ctx context.Context, out io.Writer) (any, error) {
		io.WriteString(out, "one")
		io.WriteString(out, "two")
		return nil, nil
	})
	_, _ = Execute(context.Background(), a, Options{Hooks: hooks})

	want := []string{"ready", "started", "output", "output", "successful"}
	if got := hooks.forAction("a"); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestHooksAreNeverConcurrent(t *testing.T) {
	hooks := &eventRecorder{}
	root := NewAction("root", nil)
	for i := 0; i < 8; i++ {
		root.DependOn(NewAction(fmt.Sprintf("a%d", i), func(ctx context.Context, out io.Writer) (any, error) {
			for j := 0; j < 5; j++ {
				fmt.Fprintf(out, "line %d\n", j)
			}
			return nil, nil
		}))
	}

	if _, err := Run(context.Background(), root, Options{Jobs: 4, Hooks: hooks}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if n := atomic.LoadInt32(&hooks.overlaps); n != 0 {
		t.Errorf("%d hook calls overlapped", n)
	}
}

func TestHooksEventOrderPerAction(t *testing.T) {
	hooks := &eventRecorder{}
	boom := errors.New("boom")
	root := NewAction("root", nil)
	failing := NewAction("failing", func(context.Context, io.Writer) (any, error) { return nil, boom })
	child := NewAction("child", nil)
	child.DependOn(failing)
	root.DependOn(child)
	for i := 0; i < 4; i++ {
		root.DependOn(NewAction(fmt.Sprintf("ok%d", i), nil))
	}

	_, _ = Run(context.Background(), root, Options{Jobs: 3, KeepGoing: true, Hooks: hooks})

	rank := map[string]int{"ready": 0, "started": 1, "output": 2, "successful": 3, "failed": 3, "canceled": 3}
	for _, label := range []string{"root", "failing", "child", "ok0", "ok1", "ok2", "ok3"} {
		events := hooks.forAction(label)
		if len(events) == 0 {
			t.Errorf("%s: no events", label)
			continue
		}
		terminal := 0
		for i, e := range events {
			if rank[e] == 3 {
				terminal++
			}
			if i > 0 && rank[e] < rank[events[i-1]] {
				t.Errorf("%s: events out of order: %v", label, events)
			}
			if e == "canceled" && contains(events, "started") {
				t.Errorf("%s: canceled after started: %v", label, events)
			}
		}
		if terminal != 1 {
			t.Errorf("%s: expected exactly one terminal event, got %v", label, events)
		}
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// onlyFailures implements just one hook on top of NopHooks.
type onlyFailures struct {
	NopHooks
	failed []string
}

func (h *onlyFailures) ActionFailed(a *Action, err error) {
	h.failed = append(h.failed, a.Label()+": "+err.Error())
}

func TestNopHooksEmbedding(t *testing.T) {
	hooks := &onlyFailures{}
	a := NewAction("a", func(context.Context, io.Writer) (any, error) {
		return nil, errors.New("boom")
	})
	_, _ = Execute(context.Background(), a, Options{Hooks: hooks})

	if !reflect.DeepEqual(hooks.failed, []string{"a: boom"}) {
		t.Errorf("unexpected failures %v", hooks.failed)
	}
}

func TestMultiHooksForwardsInOrder(t *testing.T) {
	first := &eventRecorder{}
	second := &eventRecorder{}
	hooks := MultiHooks{first, nil, second}

	_, err := Execute(context.Background(), NewAction("a", nil), Options{Hooks: hooks})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if !reflect.DeepEqual(first.events, second.events) || len(first.events) != 3 {
		t.Errorf("hooks saw different events: %v vs %v", first.events, second.events)
	}
}

// panickingHooks panics when the named action reaches the given event.
type panickingHooks struct {
	NopHooks
	event string
	label string
}

func (h panickingHooks) check(event string, a *Action) {
	if event == h.event && a.Label() == h.label {
		panic("observer bug")
	}
}

func (h panickingHooks) ActionStarted(a *Action)          { h.check("started", a) }
func (h panickingHooks) ActionOutput(a *Action, _ []byte) { h.check("output", a) }

// runRecovering runs root in a goroutine and returns the recovered panic
// value and the live report.
func runRecovering(t *testing.T, root *Action, opts Options) (any, *Report) {
	t.Helper()

	var report *Report
	opts.OnStart = func(r *Report) { report = r }

	done := make(chan any, 1)
	go func() {
		defer func() { done <- recover() }()
		_, _ = Run(context.Background(), root, opts)
	}()

	select {
	case p := <-done:
		return p, report
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after a hook panicked")
		return nil, nil
	}
}

func TestHookPanicStopsRunAndClosesWriters(t *testing.T) {
	writeErr := make(chan error, 1)
	a := NewAction("a", func(ctx context.Context, out io.Writer) (any, error) {
		<-ctx.Done()
		_, err := io.WriteString(out, "late")
		writeErr <- err
		return nil, ctx.Err()
	})
	b := NewAction("b", nil)
	root := NewAction("root", nil)
	root.DependOn(a, b)

	p, report := runRecovering(t, root, Options{Jobs: 2, Hooks: panickingHooks{event: "started", label: "b"}})
	if p != "observer bug" {
		t.Fatalf("expected the hook's panic value, got %v", p)
	}

	// The behavior returned before the panic was raised again
	select {
	case err := <-writeErr:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("expected io.ErrClosedPipe for a write after the panic, got %v", err)
		}
	default:
		t.Error("behavior of a was still running when the run returned")
	}

	for _, e := range report.Entries() {
		if !e.Status.IsTerminal() {
			t.Errorf("%s left in %s", e.Action.Label(), e.Status)
		}
	}
	if got := report.Status(root); got != StatusCanceled {
		t.Errorf("root: expected canceled, got %s", got)
	}
}

func TestHookPanicDuringOutput(t *testing.T) {
	second := make(chan error, 1)
	a := NewAction("a", func(_ context.Context, out io.Writer) (any, error) {
		if _, err := io.WriteString(out, "first"); err != nil {
			return nil, err
		}
		_, err := io.WriteString(out, "second")
		second <- err
		return nil, nil
	})
	root := NewAction("root", nil)
	root.DependOn(a)

	p, report := runRecovering(t, root, Options{Hooks: panickingHooks{event: "output", label: "a"}})
	if p != "observer bug" {
		t.Fatalf("expected the hook's panic value, got %v", p)
	}
	if err := <-second; !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected io.ErrClosedPipe after the panic, got %v", err)
	}

	s, _ := report.Get(a)
	if string(s.Output) != "first" {
		t.Errorf("expected only the first chunk recorded, got %q", s.Output)
	}
	if got := report.Status(root); got != StatusCanceled {
		t.Errorf("root: expected canceled, got %s", got)
	}
}

func TestOnStartExposesLiveReport(t *testing.T) {
	var report *Report
	var seen Status

	b := NewAction("b", nil)
	a := NewAction("a", func(context.Context, io.Writer) (any, error) {
		seen = report.Status(b)
		return nil, nil
	})
	root := NewAction("root", nil)
	root.DependOn(a, b)

	_, err := Run(context.Background(), root, Options{OnStart: func(r *Report) { report = r }})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if seen != StatusReady {
		t.Errorf("expected b ready while a ran, got %s", seen)
	}
}
