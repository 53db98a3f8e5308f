package cli

import (
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newBoardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Open the interactive board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Logs stay off the full screen view unless --debug is set.
			logger := log.New()
			logger.SetOutput(io.Discard)
			if app.debug {
				logger.SetOutput(cmd.ErrOrStderr())
				logger.SetLevel(log.DebugLevel)
			}
			return app.RunBoard(cmd.Context(), app.NewBackend(app.cfg), logger)
		},
	}
}
