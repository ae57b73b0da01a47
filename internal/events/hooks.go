package events

import (
	"strconv"
	"time"

	"github.com/aristath/actiontree/internal/scheduler"
)

// BusHooks publishes the lifecycle of a run's actions onto an EventBus.
// Action events go to TopicAction, progress counts to TopicRun.
//
// BusHooks relies on the scheduler calling hooks one at a time, so it keeps
// its counters without locking. Use one BusHooks per run.
type BusHooks struct {
	bus   *EventBus
	graph *scheduler.Graph
	idOf  func(*scheduler.Action) string
	now   func() time.Time

	started    map[*scheduler.Action]time.Time
	running    int
	successful int
	failed     int
	canceled   int
}

// NewBusHooks creates hooks for a run over g. idOf names actions in events;
// nil uses the action's node ID in g.
func NewBusHooks(bus *EventBus, g *scheduler.Graph, idOf func(*scheduler.Action) string) *BusHooks {
	h := &BusHooks{
		bus:     bus,
		graph:   g,
		idOf:    idOf,
		now:     time.Now,
		started: make(map[*scheduler.Action]time.Time),
	}
	if h.idOf == nil {
		h.idOf = h.nodeID
	}
	return h
}

func (h *BusHooks) nodeID(a *scheduler.Action) string {
	id, ok := h.graph.Lookup(a)
	if !ok {
		return ""
	}
	return strconv.Itoa(int(id))
}

// Actions describes the graph's actions in topological order, with the IDs
// BusHooks uses in its events.
func (h *BusHooks) Actions() []ActionInfo {
	order := h.graph.Order()
	infos := make([]ActionInfo, 0, len(order))
	for _, a := range order {
		info := ActionInfo{ID: h.idOf(a), Label: a.Label()}
		id, _ := h.graph.Lookup(a)
		for _, dep := range h.graph.Node(id).Dependencies {
			info.Deps = append(info.Deps, h.idOf(h.graph.Node(dep).Action))
		}
		infos = append(infos, info)
	}
	return infos
}

func (h *BusHooks) ActionReady(a *scheduler.Action) {
	h.bus.Publish(TopicAction, ActionReadyEvent{ID: h.idOf(a), Label: a.Label(), Timestamp: h.now()})
}

func (h *BusHooks) ActionStarted(a *scheduler.Action) {
	t := h.now()
	h.started[a] = t
	h.running++
	h.bus.Publish(TopicAction, ActionStartedEvent{ID: h.idOf(a), Label: a.Label(), Timestamp: t})
	h.publishProgress()
}

func (h *BusHooks) ActionSuccessful(a *scheduler.Action, _ any) {
	t := h.now()
	h.running--
	h.successful++
	h.bus.Publish(TopicAction, ActionSuccessfulEvent{ID: h.idOf(a), Duration: h.elapsed(a, t), Timestamp: t})
	h.publishProgress()
}

func (h *BusHooks) ActionFailed(a *scheduler.Action, err error) {
	t := h.now()
	h.running--
	h.failed++
	h.bus.Publish(TopicAction, ActionFailedEvent{ID: h.idOf(a), Err: err, Duration: h.elapsed(a, t), Timestamp: t})
	h.publishProgress()
}

func (h *BusHooks) ActionCanceled(a *scheduler.Action) {
	h.canceled++
	h.bus.Publish(TopicAction, ActionCanceledEvent{ID: h.idOf(a), Timestamp: h.now()})
	h.publishProgress()
}

func (h *BusHooks) ActionOutput(a *scheduler.Action, chunk []byte) {
	h.bus.Publish(TopicAction, ActionOutputEvent{ID: h.idOf(a), Chunk: string(chunk), Timestamp: h.now()})
}

func (h *BusHooks) elapsed(a *scheduler.Action, end time.Time) time.Duration {
	start, ok := h.started[a]
	if !ok {
		return 0
	}
	delete(h.started, a)
	return end.Sub(start)
}

// Progress returns the current counts.
func (h *BusHooks) Progress() RunProgressEvent {
	total := h.graph.Len()
	return RunProgressEvent{
		Total:      total,
		Successful: h.successful,
		Failed:     h.failed,
		Canceled:   h.canceled,
		Running:    h.running,
		Pending:    total - h.successful - h.failed - h.canceled - h.running,
		Timestamp:  h.now(),
	}
}

func (h *BusHooks) publishProgress() {
	h.bus.Publish(TopicRun, h.Progress())
}
