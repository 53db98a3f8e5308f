package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/board"
	"taskboard/domain"
)

const (
	defaultWidth = 100
	minColWidth  = 24
)

var (
	styleHeader   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	styleLabel    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true)
	styleHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	styleColumn   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
	styleActive   = styleColumn.BorderForeground(lipgloss.Color("13"))
	styleCard     = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
	styleSelected = styleCard.BorderForeground(lipgloss.Color("13")).Bold(true)
	styleDesc     = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	styleSuccess  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleModal    = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("12")).Padding(1, 2)
)

// DefaultCard renders the title and the first line of the description.
func DefaultCard(t domain.Task, selected bool) string {
	desc := t.Description
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		desc = desc[:i]
	}
	body := t.Title + "\n" + styleDesc.Render(desc)
	if selected {
		return styleSelected.Render(body)
	}
	return styleCard.Render(body)
}

func (m Model) View() string {
	var b strings.Builder
	state := m.ctrl.Snapshot()

	b.WriteString(styleHeader.Render("Task Board"))
	b.WriteString("  ")
	b.WriteString(styleLabel.Render("sort: ") + state.SortMode.String())
	if state.FilterTerm != "" {
		b.WriteString("  " + styleLabel.Render("filter: ") + state.FilterTerm)
	}
	if m.busy {
		b.WriteString("  " + styleHelp.Render("working..."))
	}
	b.WriteString("\n")

	switch m.mode {
	case modeEdit:
		b.WriteString(m.viewForm())
	case modeView:
		b.WriteString(m.viewDetails())
	case modeConfirmDelete:
		b.WriteString(styleModal.Render(fmt.Sprintf("Delete %q?\n\n%s", m.viewing.Title, styleHelp.Render("y = delete, n = cancel"))))
	default:
		if m.mode == modeFilter {
			b.WriteString(m.filter.View() + "\n")
		}
		b.WriteString(m.viewColumns(state.Columns()))
	}
	b.WriteString("\n")

	if m.toast != nil {
		style := styleSuccess
		if m.toast.Level == board.LevelError {
			style = styleError
		}
		b.WriteString(style.Render(m.toast.Message) + "\n")
	}
	b.WriteString(styleHelp.Render(m.help()))
	return b.String()
}

func (m Model) viewColumns(cols []board.Column) string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}
	colWidth := width/len(cols) - 4
	if colWidth < minColWidth {
		colWidth = minColWidth
	}

	rendered := make([]string, 0, len(cols))
	for c, col := range cols {
		var body strings.Builder
		body.WriteString(styleHeader.Render(fmt.Sprintf("%s (%d)", col.Status.Label(), len(col.Tasks))))
		body.WriteString("\n")
		if len(col.Tasks) == 0 {
			body.WriteString(styleHelp.Render("no tasks"))
		}
		for r, t := range col.Tasks {
			body.WriteString(m.render(t, c == m.col && r == m.row))
			body.WriteString("\n")
		}
		style := styleColumn
		if c == m.col {
			style = styleActive
		}
		rendered = append(rendered, style.Width(colWidth).Render(body.String()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) viewForm() string {
	heading := "New task"
	if m.editingID != "" {
		heading = "Edit task"
	}
	return styleModal.Render(strings.Join([]string{
		styleHeader.Render(heading),
		"",
		styleLabel.Render("Title"),
		m.fields[0].View(),
		styleLabel.Render("Description"),
		m.fields[1].View(),
	}, "\n"))
}

func (m Model) viewDetails() string {
	t := m.viewing
	return styleModal.Render(strings.Join([]string{
		styleHeader.Render(t.Title),
		"",
		t.Description,
		"",
		styleLabel.Render("Status: ") + t.Status.Label(),
		styleLabel.Render("Created: ") + t.CreatedAt.Local().Format("2006-01-02 15:04"),
	}, "\n"))
}

func (m Model) help() string {
	switch m.mode {
	case modeEdit:
		return "tab: next field  enter: save  esc: cancel"
	case modeView:
		return "e: edit  esc: close"
	case modeConfirmDelete:
		return ""
	case modeFilter:
		return "enter: apply  esc: clear"
	}
	return "h/l: column  j/k: card  H/L: move  J/K: reorder  n: new  e: edit  v: view  d: delete  /: search  s: sort  r: refresh  q: quit"
}
