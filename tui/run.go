package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
)

// Run loads the board from remote and runs the interactive program until the
// user quits or ctx ends.
func Run(ctx context.Context, remote board.Remote, logger *log.Logger, opts ...Option) error {
	notices := NewNotices(16)
	store := board.NewStore(remote, logger)
	ctrl := board.NewController(store, logger, board.WithNotifier(notices))
	defer ctrl.Wait()

	m := New(ctx, ctrl, notices, logger, opts...)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
