package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/actiontree/internal/scheduler"
)

// runFailing executes leaf -> (ok, bad) -> top with bad failing.
func runFailing(t *testing.T, h *Hooks) {
	t.Helper()

	leaf := scheduler.NewAction("leaf", func(_ context.Context, out io.Writer) (any, error) {
		_, err := io.WriteString(out, "hello")
		return nil, err
	})
	ok := scheduler.NewAction("ok", nil)
	ok.DependOn(leaf)
	bad := scheduler.NewAction("bad", func(context.Context, io.Writer) (any, error) {
		return nil, errors.New("broken")
	})
	bad.DependOn(leaf)
	top := scheduler.NewAction("top", nil)
	top.DependOn(ok, bad)

	_, err := scheduler.Run(context.Background(), top, scheduler.Options{KeepGoing: true, Hooks: h})
	require.Error(t, err)
}

func TestHooksCountTransitions(t *testing.T) {
	h := NewHooks()
	runFailing(t, h)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.actions.WithLabelValues("ready")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.actions.WithLabelValues("started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.actions.WithLabelValues("successful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.actions.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.actions.WithLabelValues("canceled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.running))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.output))
	assert.Empty(t, h.started)

	// One series per terminal state that ran a behavior
	assert.Equal(t, 2, testutil.CollectAndCount(h.duration))
}

func TestHooksAccumulateAcrossRuns(t *testing.T) {
	h := NewHooks()
	runFailing(t, h)
	runFailing(t, h)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.actions.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.actions.WithLabelValues("successful")))
}

func TestHandler(t *testing.T) {
	h := NewHooks()
	runFailing(t, h)

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `actiontree_actions_total{status="failed"} 1`)
	assert.Contains(t, body, "actiontree_action_duration_seconds_bucket")
	assert.Contains(t, body, "actiontree_actions_running 0")
}

func TestWriteTextfile(t *testing.T) {
	h := NewHooks()
	runFailing(t, h)

	path := filepath.Join(t.TempDir(), "actiontree.prom")
	require.NoError(t, h.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `actiontree_actions_total{status="canceled"} 1`)
}

func TestWriteTextfileBadPath(t *testing.T) {
	h := NewHooks()
	err := h.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}

var _ scheduler.Hooks = (*Hooks)(nil)
