// Package tui renders the board in the terminal with bubbletea.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
)

const toastDuration = 3 * time.Second

type mode int

const (
	modeBoard mode = iota
	modeEdit
	modeView
	modeConfirmDelete
	modeFilter
)

// CardRenderer draws one task card. selected is true for the card under the
// cursor.
type CardRenderer func(t domain.Task, selected bool) string

// Notices buffers controller notices until the program picks them up. Notify
// drops a notice when the buffer is full rather than block the controller.
type Notices chan board.Notice

// NewNotices returns a Notices buffer of the given size.
func NewNotices(size int) Notices { return make(Notices, size) }

func (n Notices) Notify(x board.Notice) {
	select {
	case n <- x:
	default:
	}
}

type (
	noticeMsg    board.Notice
	opDoneMsg    struct{ err error }
	saveDoneMsg  struct{ err error }
	relocatedMsg struct{ rel *board.Relocation }
	toastTimeout struct{ seq int }
)

// Model is the bubbletea model of the board. Board data always comes from
// the controller; the model only keeps cursor, mode and form state.
type Model struct {
	ctx     context.Context
	ctrl    *board.Controller
	notices Notices
	render  CardRenderer
	log     *log.Logger

	mode mode
	col  int
	row  int

	editingID string
	viewing   domain.Task
	fields    [2]textinput.Model
	focus     int
	filter    textinput.Model

	toast    *board.Notice
	toastSeq int
	busy     bool

	width, height int
}

// Option configures a Model.
type Option func(*Model)

// WithRenderer replaces the default card renderer.
func WithRenderer(r CardRenderer) Option {
	return func(m *Model) {
		if r != nil {
			m.render = r
		}
	}
}

// New builds a board model over ctrl. notices must be the notifier the
// controller was created with.
func New(ctx context.Context, ctrl *board.Controller, notices Notices, logger *log.Logger, opts ...Option) Model {
	if logger == nil {
		logger = log.StandardLogger()
	}
	title := textinput.New()
	title.Placeholder = "Title"
	title.CharLimit = 200
	desc := textinput.New()
	desc.Placeholder = "Description"
	desc.CharLimit = 2000
	filter := textinput.New()
	filter.Placeholder = "Search tasks..."
	filter.Prompt = "/ "

	m := Model{
		ctx:     ctx,
		ctrl:    ctrl,
		notices: notices,
		render:  DefaultCard,
		log:     logger,
		fields:  [2]textinput.Model{title, desc},
		filter:  filter,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitNotice(), m.refresh())
}

func (m Model) waitNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	ch := m.notices
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return opDoneMsg{err: ctrl.Refresh(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case noticeMsg:
		n := board.Notice(msg)
		m.toast = &n
		m.toastSeq++
		seq := m.toastSeq
		return m, tea.Batch(m.waitNotice(), tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastTimeout{seq: seq} }))
	case toastTimeout:
		if msg.seq == m.toastSeq {
			m.toast = nil
		}
		return m, nil
	case opDoneMsg:
		m.busy = false
		m.clampCursor()
		return m, nil
	case saveDoneMsg:
		m.busy = false
		var verr *board.ValidationError
		if !errors.As(msg.err, &verr) {
			m.closeForm()
		}
		m.clampCursor()
		return m, nil
	case relocatedMsg:
		if msg.rel.State() == board.RelocationReverted {
			m.follow(msg.rel.TaskID)
		}
		m.clampCursor()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.mode {
		case modeEdit:
			return m.updateEdit(msg)
		case modeView:
			return m.updateView(msg)
		case modeConfirmDelete:
			return m.updateConfirm(msg)
		case modeFilter:
			return m.updateFilter(msg)
		}
		return m.updateBoard(msg)
	}
	return m, nil
}

func (m Model) updateBoard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "h", "left":
		if m.col > 0 {
			m.col--
		}
		m.clampCursor()
	case "l", "right":
		if m.col < len(domain.Statuses)-1 {
			m.col++
		}
		m.clampCursor()
	case "k", "up":
		if m.row > 0 {
			m.row--
		}
	case "j", "down":
		m.row++
		m.clampCursor()
	case "H", "shift+left":
		return m.moveAcross(-1)
	case "L", "shift+right":
		return m.moveAcross(1)
	case "K", "shift+up":
		return m.reorder(-1)
	case "J", "shift+down":
		return m.reorder(1)
	case "n":
		return m.openForm(domain.Task{})
	case "e":
		if t, ok := m.selected(); ok {
			return m.openForm(t)
		}
	case "enter", "v":
		if t, ok := m.selected(); ok {
			m.viewing = t
			m.mode = modeView
		}
	case "d", "x":
		if t, ok := m.selected(); ok {
			m.viewing = t
			m.mode = modeConfirmDelete
		}
	case "/":
		m.mode = modeFilter
		m.filter.SetValue(m.ctrl.Snapshot().FilterTerm)
		m.filter.CursorEnd()
		cmd := m.filter.Focus()
		return m, cmd
	case "s":
		m.ctrl.SetSort(m.ctrl.Snapshot().SortMode.Next())
		m.clampCursor()
	case "r":
		m.busy = true
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) openForm(t domain.Task) (tea.Model, tea.Cmd) {
	m.mode = modeEdit
	m.editingID = t.ID
	m.fields[0].SetValue(t.Title)
	m.fields[1].SetValue(t.Description)
	m.focus = 0
	m.fields[1].Blur()
	cmd := m.fields[0].Focus()
	return m, cmd
}

func (m *Model) closeForm() {
	m.mode = modeBoard
	m.editingID = ""
	for i := range m.fields {
		m.fields[i].Blur()
		m.fields[i].SetValue("")
	}
}

func (m Model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closeForm()
		return m, nil
	case "tab", "shift+tab", "down", "up":
		m.fields[m.focus].Blur()
		m.focus = 1 - m.focus
		cmd := m.fields[m.focus].Focus()
		return m, cmd
	case "enter":
		if m.busy {
			return m, nil
		}
		m.busy = true
		ctx, ctrl := m.ctx, m.ctrl
		id, title, desc := m.editingID, m.fields[0].Value(), m.fields[1].Value()
		return m, func() tea.Msg {
			return saveDoneMsg{err: ctrl.SaveTask(ctx, id, title, desc)}
		}
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m Model) updateView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "enter", "v", "q":
		m.mode = modeBoard
	case "e":
		return m.openForm(m.viewing)
	}
	return m, nil
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = modeBoard
		m.busy = true
		ctx, ctrl, id := m.ctx, m.ctrl, m.viewing.ID
		return m, func() tea.Msg {
			return opDoneMsg{err: ctrl.DeleteTask(ctx, id)}
		}
	case "n", "N", "esc", "q":
		m.mode = modeBoard
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.mode = modeBoard
		m.filter.Blur()
		return m, nil
	case "esc":
		m.mode = modeBoard
		m.filter.Blur()
		m.filter.SetValue("")
		m.ctrl.SetFilter("")
		m.clampCursor()
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.ctrl.SetFilter(m.filter.Value())
	m.row = 0
	return m, cmd
}

// moveAcross relocates the selected card to the end of the neighbouring column.
func (m Model) moveAcross(delta int) (tea.Model, tea.Cmd) {
	t, ok := m.selected()
	if !ok {
		return m, nil
	}
	target := m.col + delta
	if target < 0 || target >= len(domain.Statuses) {
		return m, nil
	}
	dest := domain.Statuses[target]
	m.col = target
	return m.relocate(t, dest, -1)
}

// reorder moves the selected card one position up or down its column.
func (m Model) reorder(delta int) (tea.Model, tea.Cmd) {
	t, ok := m.selected()
	if !ok {
		return m, nil
	}
	target := m.row + delta
	if target < 0 || target >= len(m.column().Tasks) {
		return m, nil
	}
	return m.relocate(t, t.Status, target)
}

func (m Model) relocate(t domain.Task, dest domain.Status, viewIndex int) (tea.Model, tea.Cmd) {
	state := m.ctrl.Snapshot()
	from, fromIdx, _ := state.Find(t.ID)
	rel, err := m.ctrl.HandleRelocation(m.ctx, board.DragEvent{
		TaskID:      t.ID,
		Source:      board.Location{Status: from, Index: fromIdx},
		Destination: &board.Location{Status: dest, Index: state.DropIndex(dest, viewIndex, t.ID)},
	})
	if err != nil {
		m.log.WithError(err).Debug("relocation rejected")
		return m, nil
	}
	m.follow(t.ID)
	return m, func() tea.Msg {
		<-rel.Done()
		return relocatedMsg{rel: rel}
	}
}

func (m Model) column() board.Column {
	cols := m.ctrl.Columns()
	if m.col < 0 || m.col >= len(cols) {
		return board.Column{}
	}
	return cols[m.col]
}

func (m Model) selected() (domain.Task, bool) {
	tasks := m.column().Tasks
	if m.row < 0 || m.row >= len(tasks) {
		return domain.Task{}, false
	}
	return tasks[m.row], true
}

func (m *Model) clampCursor() {
	n := len(m.column().Tasks)
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

// follow puts the cursor on the card of id wherever it is now rendered.
func (m *Model) follow(id string) {
	for c, col := range m.ctrl.Columns() {
		for r, t := range col.Tasks {
			if t.ID == id {
				m.col, m.row = c, r
				return
			}
		}
	}
	m.clampCursor()
}
