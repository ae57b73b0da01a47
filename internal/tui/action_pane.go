package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/actiontree/internal/events"
	"github.com/aristath/actiontree/internal/scheduler"
)

// maxOutputBytes caps the output kept per action; older bytes are dropped.
const maxOutputBytes = 256 << 10

// ActionState is what the view knows about one action.
type ActionState struct {
	ID       string
	Label    string
	Deps     []string
	Status   scheduler.Status
	Output   strings.Builder
	Duration time.Duration
	Err      error
}

// Name is the label, or the ID for unlabeled actions.
func (a *ActionState) Name() string {
	if a.Label != "" {
		return a.Label
	}
	return a.ID
}

// ActionPaneModel is the action list with the selected action's output.
type ActionPaneModel struct {
	actions     map[string]*ActionState
	order       []string // Topological, as announced by the run
	selectedIdx int
	pinned      bool // The user chose the selection
	viewport    viewport.Model
	spinner     spinner.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewActionPaneModel creates an empty pane.
func NewActionPaneModel() ActionPaneModel {
	return ActionPaneModel{
		actions:  make(map[string]*ActionState),
		viewport: viewport.New(0, 0),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(StyleStatusRunning)),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Init starts the spinner.
func (m ActionPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the action pane.
func (m ActionPaneModel) Update(msg tea.Msg) (ActionPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.pinned = true
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.pinned = true
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)

	case events.RunStartedEvent:
		m.actions = make(map[string]*ActionState, len(msg.Actions))
		m.order = m.order[:0]
		for _, info := range msg.Actions {
			m.actions[info.ID] = &ActionState{ID: info.ID, Label: info.Label, Deps: info.Deps}
			m.order = append(m.order, info.ID)
		}
		m.selectedIdx = 0
		m.updateViewportContent()

	case events.ActionReadyEvent:
		m.setStatus(msg.ID, scheduler.StatusReady)

	case events.ActionStartedEvent:
		m.setStatus(msg.ID, scheduler.StatusStarted)
		// Follow the newest running action until the user picks one
		if !m.pinned {
			m.selectID(msg.ID)
		}
		m.refreshIfSelected(msg.ID)

	case events.ActionOutputEvent:
		if a, ok := m.actions[msg.ID]; ok {
			appendCapped(&a.Output, msg.Chunk)
			if m.selectedID() == msg.ID {
				m.updateTag++
				tag := m.updateTag
				return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
					return tickMsg{tag: tag}
				})
			}
		}

	case events.ActionSuccessfulEvent:
		if a, ok := m.actions[msg.ID]; ok {
			a.Status = scheduler.StatusSuccessful
			a.Duration = msg.Duration
			m.refreshIfSelected(msg.ID)
		}

	case events.ActionFailedEvent:
		if a, ok := m.actions[msg.ID]; ok {
			a.Status = scheduler.StatusFailed
			a.Duration = msg.Duration
			a.Err = msg.Err
			m.refreshIfSelected(msg.ID)
		}

	case events.ActionCanceledEvent:
		if a, ok := m.actions[msg.ID]; ok {
			a.Status = scheduler.StatusCanceled
			m.refreshIfSelected(msg.ID)
		}

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func appendCapped(b *strings.Builder, chunk string) {
	if b.Len()+len(chunk) <= maxOutputBytes {
		b.WriteString(chunk)
		return
	}
	kept := b.String() + chunk
	kept = kept[len(kept)-maxOutputBytes:]
	b.Reset()
	b.WriteString(kept)
}

func (m *ActionPaneModel) setStatus(id string, status scheduler.Status) {
	if a, ok := m.actions[id]; ok {
		a.Status = status
	}
}

func (m *ActionPaneModel) refreshIfSelected(id string) {
	if m.selectedID() == id {
		m.updateViewportContent()
	}
}

func (m *ActionPaneModel) selectID(id string) {
	for i, o := range m.order {
		if o == id {
			if i != m.selectedIdx {
				m.selectedIdx = i
				m.updateViewportContent()
			}
			return
		}
	}
}

// View renders the action pane.
func (m ActionPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := m.listWidth()
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderActionList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m ActionPaneModel) listWidth() int {
	return max(20, m.width*2/5)
}

// renderActionList renders the action list column.
func (m ActionPaneModel) renderActionList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Actions")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		a := m.actions[id]
		name := a.Name()
		if limit := width - 4; len(name) > limit && limit > 3 {
			name = name[:limit-3] + "..."
		}

		line := fmt.Sprintf("%s %s", m.StatusIcon(a.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m ActionPaneModel) StatusIcon(status scheduler.Status) string {
	switch status {
	case scheduler.StatusStarted:
		return m.spinner.View()
	case scheduler.StatusReady:
		return StyleStatusReady.Render("◌")
	case scheduler.StatusSuccessful:
		return StyleStatusComplete.Render("✓")
	case scheduler.StatusFailed:
		return StyleStatusFailed.Render("✗")
	case scheduler.StatusCanceled:
		return StyleStatusCanceled.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m ActionPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

func (m ActionPaneModel) selected() *ActionState {
	return m.actions[m.selectedID()]
}

// updateViewportContent shows the selected action's output and outcome.
func (m *ActionPaneModel) updateViewportContent() {
	a := m.selected()
	if a == nil {
		m.viewport.SetContent("Waiting for actions...")
		return
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(a.Name()))
	b.WriteString("\n")
	if len(a.Deps) > 0 {
		b.WriteString(StyleHelp.Render("after " + strings.Join(a.Deps, ", ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(a.Output.String())

	switch a.Status {
	case scheduler.StatusSuccessful:
		b.WriteString(fmt.Sprintf("\n[Successful in %v]", a.Duration.Round(time.Millisecond)))
	case scheduler.StatusFailed:
		b.WriteString(fmt.Sprintf("\n[Failed after %v: %v]", a.Duration.Round(time.Millisecond), a.Err))
	case scheduler.StatusCanceled:
		b.WriteString("\n[Canceled]")
	}

	m.viewport.SetContent(b.String())
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *ActionPaneModel) resizeViewport() {
	viewportWidth := m.width - m.listWidth() - 4
	viewportHeight := m.height - 4 // account for borders

	m.viewport.Width = max(10, viewportWidth)
	m.viewport.Height = max(5, viewportHeight)
}

// SetSize updates the pane dimensions.
func (m *ActionPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *ActionPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// Counts returns how many actions are in each status.
func (m ActionPaneModel) Counts() map[scheduler.Status]int {
	counts := make(map[scheduler.Status]int)
	for _, a := range m.actions {
		counts[a.Status]++
	}
	return counts
}
