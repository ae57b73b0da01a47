package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/actiontree/internal/config"
)

// SettingsPaneModel manages the settings form overlay. Saved settings apply
// to the next run, not the one in progress.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget     string
	jobs           string
	keepGoing      bool
	verbosity      int
	historyPath    string
	breakerEnabled bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.resetFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) resetFields() {
	m.saveTarget = "project"
	m.jobs = strconv.Itoa(m.config.Jobs)
	m.keepGoing = m.config.KeepGoing
	m.verbosity = min(max(m.config.Verbosity, 0), 3)
	m.historyPath = m.config.HistoryPath
	m.breakerEnabled = m.config.Breaker.Enabled
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project ("+m.projectPath+")", "project"),
					huh.NewOption("Global ("+m.globalPath+")", "global"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("jobs").
				Title("Jobs").
				Description("Actions running at once; -1 for one more than the CPU count").
				Value(&m.jobs).
				Validate(validateJobs),

			huh.NewConfirm().
				Key("keepGoing").
				Title("Keep going after a failure?").
				Value(&m.keepGoing),

			huh.NewSelect[int]().
				Key("verbosity").
				Title("Log Level").
				Options(
					huh.NewOption("warn", 0),
					huh.NewOption("info", 1),
					huh.NewOption("debug", 2),
					huh.NewOption("trace", 3),
				).
				Value(&m.verbosity),
		).Title("Execution"),

		huh.NewGroup(
			huh.NewInput().
				Key("historyPath").
				Title("History Database").
				Description("Empty disables the run history").
				Value(&m.historyPath).
				Placeholder(config.DefaultHistoryPath()),

			huh.NewConfirm().
				Key("breakerEnabled").
				Title("Circuit breakers for subprocesses?").
				Value(&m.breakerEnabled),
		).Title("Storage and Resilience"),
	)
}

func validateJobs(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("jobs must be a whole number")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == KeyEsc {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.projectPath
		if m.saveTarget == "global" {
			targetPath = m.globalPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() {
	// Validated by the form
	jobs, _ := strconv.Atoi(m.jobs)
	m.config.Jobs = jobs
	m.config.KeepGoing = m.keepGoing
	m.config.Verbosity = m.verbosity
	m.config.HistoryPath = m.historyPath
	m.config.Breaker.Enabled = m.breakerEnabled
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = StyleStatusFailed.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(10, m.width-4)).
		Height(max(5, m.height-4))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings (apply to the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(10, w-8)).WithHeight(max(5, h-8))
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Start over from the current config each time it opens
	if v {
		m.resetFields()
		m.buildForm()
		m.SetSize(m.width, m.height)
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
