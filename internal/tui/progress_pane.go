package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/actiontree/internal/events"
)

// ProgressPaneModel shows the run's counts and a progress bar.
type ProgressPaneModel struct {
	progress events.RunProgressEvent
	finished *events.RunFinishedEvent
	runID    string
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunStartedEvent:
		m.runID = msg.RunID
		m.finished = nil
		m.progress = events.RunProgressEvent{Total: len(msg.Actions), Pending: len(msg.Actions)}

	case events.RunProgressEvent:
		m.progress = msg

	case events.RunFinishedEvent:
		m.finished = &msg
	}

	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	p := m.progress

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:      %d\n", p.Total))
	b.WriteString(fmt.Sprintf("Successful: %s\n", StyleStatusComplete.Render(fmt.Sprint(p.Successful))))
	b.WriteString(fmt.Sprintf("Running:    %s\n", StyleStatusRunning.Render(fmt.Sprint(p.Running))))
	b.WriteString(fmt.Sprintf("Failed:     %s\n", StyleStatusFailed.Render(fmt.Sprint(p.Failed))))
	b.WriteString(fmt.Sprintf("Canceled:   %s\n", StyleStatusCanceled.Render(fmt.Sprint(p.Canceled))))
	b.WriteString(fmt.Sprintf("Pending:    %s\n", StyleStatusPending.Render(fmt.Sprint(p.Pending))))
	b.WriteString("\n")

	if p.Total > 0 {
		b.WriteString(m.renderBar())
		b.WriteString("\n")
	}

	if m.finished != nil {
		b.WriteString("\n")
		if m.finished.Success {
			b.WriteString(StyleStatusComplete.Render(fmt.Sprintf("Run successful in %v", m.finished.Duration.Round(time.Millisecond))))
		} else {
			b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("Run failed after %v", m.finished.Duration.Round(time.Millisecond))))
		}
		b.WriteString("\n")
	}

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m ProgressPaneModel) renderBar() string {
	p := m.progress
	barWidth := max(1, min(m.width-16, 40))
	successWidth := (p.Successful * barWidth) / p.Total
	failedWidth := (p.Failed * barWidth) / p.Total
	canceledWidth := (p.Canceled * barWidth) / p.Total
	runningWidth := (p.Running * barWidth) / p.Total
	pendingWidth := barWidth - successWidth - failedWidth - canceledWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, successWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusCanceled.Render(strings.Repeat("x", max(0, canceledWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

	done := p.Successful + p.Failed + p.Canceled
	return fmt.Sprintf("[%s]  %d/%d", bar, done, p.Total)
}

// Finished reports whether the run finished event arrived.
func (m ProgressPaneModel) Finished() bool {
	return m.finished != nil
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
