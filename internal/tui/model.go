// Package tui renders a run live in the terminal with Bubble Tea, and
// summarizes finished runs with lipgloss.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/actiontree/internal/config"
	"github.com/aristath/actiontree/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneActions PaneID = iota
	PaneProgress
	paneCount
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	actionPane        ActionPaneModel
	progressPane      ProgressPaneModel
	settingsPane      SettingsPaneModel
	focusedPane       PaneID
	eventSub          <-chan events.Event
	stop              func()
	width             int
	height            int
	quitting          bool
	showSettings      bool
	config            *config.Config
	globalConfigPath  string
	projectConfigPath string
}

// New creates a new TUI model. It subscribes to all events of the bus, so it
// must be created before the run starts. stop is called when the user quits
// while the run is still going.
func New(eventBus *events.EventBus, cfg *config.Config, globalPath, projectPath string, stop func()) Model {
	m := Model{
		actionPane:        NewActionPaneModel(),
		progressPane:      NewProgressPaneModel(),
		settingsPane:      NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:       PaneActions,
		eventSub:          eventBus.SubscribeAll(4096),
		stop:              stop,
		config:            cfg,
		globalConfigPath:  globalPath,
		projectConfigPath: projectPath,
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.actionPane.Init())
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)

			// Closed itself after a save or esc
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			if !m.progressPane.Finished() && m.stop != nil {
				m.stop()
			}
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab, KeyShiftTab:
			// Two panes: both directions toggle
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneActions
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneActions {
				var cmd tea.Cmd
				m.actionPane, cmd = m.actionPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.RunStartedEvent, events.RunProgressEvent, events.RunFinishedEvent:
		var cmd tea.Cmd
		m.actionPane, cmd = m.actionPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		// Every remaining event concerns one action
		var cmd tea.Cmd
		m.actionPane, cmd = m.actionPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// Spinner ticks, debounce ticks and form messages
		var cmd tea.Cmd
		m.actionPane, cmd = m.actionPane.Update(msg)
		cmds = append(cmds, cmd)
		if m.showSettings {
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.actionPane.View(), m.progressPane.View())

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView(m.progressPane.Finished()))
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	rightWidth := max(24, m.width*3/10)
	leftWidth := m.width - rightWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar

	m.actionPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.actionPane.SetFocused(m.focusedPane == PaneActions)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}

// Finished reports whether the run ended.
func (m Model) Finished() bool {
	return m.progressPane.Finished()
}
