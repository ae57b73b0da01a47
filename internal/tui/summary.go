package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aristath/actiontree/internal/persistence"
	"github.com/aristath/actiontree/internal/scheduler"
)

// summaryRow is one action line of a summary table.
type summaryRow struct {
	key      string
	label    string
	status   scheduler.Status
	duration time.Duration
	err      string
}

// RenderReport summarizes a finished run as a table. keyOf names actions;
// nil leaves the key column out.
func RenderReport(report *scheduler.Report, keyOf func(*scheduler.Action) string) string {
	var rows []summaryRow
	for _, e := range report.Entries() {
		row := summaryRow{label: e.Action.Label(), status: e.Status, duration: e.Duration()}
		if keyOf != nil {
			row.key = keyOf(e.Action)
		}
		if e.Err != nil {
			row.err = e.Err.Error()
		}
		rows = append(rows, row)
	}
	return renderSummary(rows, keyOf != nil, report.IsSuccess(), report.EndTime().Sub(report.BeginTime()))
}

// RenderRun summarizes an archived run.
func RenderRun(run *persistence.RunRecord) string {
	var rows []summaryRow
	for _, a := range run.Actions {
		rows = append(rows, summaryRow{
			key:      a.Key,
			label:    a.Label,
			status:   a.Status,
			duration: a.Duration(),
			err:      a.Error,
		})
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Run " + run.ID))
	b.WriteString("\n")
	meta := fmt.Sprintf("started %s, jobs %d", run.StartedAt.Format(time.DateTime), run.Jobs)
	if run.Plan != "" {
		meta = "plan " + run.Plan + ", " + meta
	}
	if run.KeepGoing {
		meta += ", keep going"
	}
	b.WriteString(StyleHelp.Render(meta))
	b.WriteString("\n")
	b.WriteString(renderSummary(rows, true, run.Success, run.FinishedAt.Sub(run.StartedAt)))
	return b.String()
}

// RenderHistory lists archived runs, newest first.
func RenderHistory(runs []persistence.RunSummary) string {
	if len(runs) == 0 {
		return StyleHelp.Render("No runs recorded.") + "\n"
	}

	t := newTable("Run", "Started", "Duration", "Actions", "Result")
	for _, r := range runs {
		result := StyleStatusComplete.Render("successful")
		if !r.Success {
			result = StyleStatusFailed.Render(fmt.Sprintf("failed (%d)", r.Failed))
		}
		t.Row(
			r.ID,
			r.StartedAt.Format(time.DateTime),
			formatDuration(r.FinishedAt.Sub(r.StartedAt)),
			fmt.Sprint(r.Actions),
			result,
		)
	}
	return t.Render() + "\n"
}

func renderSummary(rows []summaryRow, withKeys, success bool, elapsed time.Duration) string {
	headers := []string{"Action", "Status", "Duration", "Error"}
	if withKeys {
		headers = append([]string{"ID"}, headers...)
	}

	t := newTable(headers...)
	counts := make(map[scheduler.Status]int)
	for _, r := range rows {
		counts[r.status]++
		label := r.label
		if label == "" {
			label = StyleHelp.Render("(unlabeled)")
		}
		cells := []string{label, renderStatus(r.status), formatDuration(r.duration), firstLine(r.err)}
		if withKeys {
			cells = append([]string{r.key}, cells...)
		}
		t.Row(cells...)
	}

	var b strings.Builder
	b.WriteString(t.Render())
	b.WriteString("\n")

	verdict := StyleStatusComplete.Render("Successful")
	if !success {
		verdict = StyleStatusFailed.Render("Failed")
	}
	b.WriteString(fmt.Sprintf("%s in %s: %d successful, %d failed, %d canceled\n",
		verdict, formatDuration(elapsed),
		counts[scheduler.StatusSuccessful], counts[scheduler.StatusFailed], counts[scheduler.StatusCanceled]))
	return b.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleTitle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func renderStatus(s scheduler.Status) string {
	switch s {
	case scheduler.StatusSuccessful:
		return StyleStatusComplete.Render(s.String())
	case scheduler.StatusFailed:
		return StyleStatusFailed.Render(s.String())
	case scheduler.StatusCanceled:
		return StyleStatusCanceled.Render(s.String())
	case scheduler.StatusStarted:
		return StyleStatusRunning.Render(s.String())
	}
	return StyleStatusPending.Render(s.String())
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
