package orchestrator

import (
	"github.com/rs/zerolog"

	"github.com/aristath/actiontree/internal/scheduler"
)

// LogHooks writes action transitions to a logger. Output chunks go out at
// trace level only.
type LogHooks struct {
	log   zerolog.Logger
	keyOf func(*scheduler.Action) string
}

// NewLogHooks creates hooks logging to log. keyOf adds an "action" field; nil
// logs labels only.
func NewLogHooks(log zerolog.Logger, keyOf func(*scheduler.Action) string) *LogHooks {
	return &LogHooks{log: log, keyOf: keyOf}
}

func (h *LogHooks) event(level zerolog.Level, a *scheduler.Action) *zerolog.Event {
	e := h.log.WithLevel(level).Str("label", a.Label())
	if h.keyOf != nil {
		e = e.Str("action", h.keyOf(a))
	}
	return e
}

func (h *LogHooks) ActionReady(a *scheduler.Action) {
	h.event(zerolog.DebugLevel, a).Msg("Action ready")
}

func (h *LogHooks) ActionStarted(a *scheduler.Action) {
	h.event(zerolog.InfoLevel, a).Msg("Action started")
}

func (h *LogHooks) ActionSuccessful(a *scheduler.Action, _ any) {
	h.event(zerolog.InfoLevel, a).Msg("Action successful")
}

func (h *LogHooks) ActionFailed(a *scheduler.Action, err error) {
	h.event(zerolog.ErrorLevel, a).Err(err).Msg("Action failed")
}

func (h *LogHooks) ActionCanceled(a *scheduler.Action) {
	h.event(zerolog.WarnLevel, a).Msg("Action canceled")
}

func (h *LogHooks) ActionOutput(a *scheduler.Action, chunk []byte) {
	h.event(zerolog.TraceLevel, a).Bytes("chunk", chunk).Msg("Action output")
}
