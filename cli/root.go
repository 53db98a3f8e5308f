// Package cli is the command tree of the terminal client.
package cli

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/client"
	"taskboard/tui"
)

// Backend is what the commands need from the server.
type Backend interface {
	board.Remote
	Session(ctx context.Context) (client.Session, error)
}

// App carries the state shared by every command.
type App struct {
	configPath string
	server     string
	token      string
	debug      bool

	cfg Config
	log *log.Logger

	// NewBackend builds the server connection; tests replace it.
	NewBackend func(cfg Config) Backend
	// RunBoard starts the interactive board; tests replace it.
	RunBoard func(ctx context.Context, remote board.Remote, logger *log.Logger) error
}

// NewRootCmd assembles the command tree around app. A nil app gets the
// production defaults.
func NewRootCmd(app *App) *cobra.Command {
	if app == nil {
		app = &App{}
	}
	if app.NewBackend == nil {
		app.NewBackend = func(cfg Config) Backend {
			return client.New(cfg.Server, cfg.Token, cfg.Timeout)
		}
	}
	if app.RunBoard == nil {
		app.RunBoard = func(ctx context.Context, remote board.Remote, logger *log.Logger) error {
			return tui.Run(ctx, remote, logger)
		}
	}

	root := &cobra.Command{
		Use:           "taskboard",
		Short:         "Kanban board for your tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/taskboard/config.yaml)")
	root.PersistentFlags().StringVar(&app.server, "server", "", "API base URL")
	root.PersistentFlags().StringVar(&app.token, "token", "", "session token")
	root.PersistentFlags().BoolVar(&app.debug, "debug", false, "verbose logging")

	root.AddCommand(
		newListCmd(app),
		newAddCmd(app),
		newEditCmd(app),
		newRmCmd(app),
		newMoveCmd(app),
		newBoardCmd(app),
		newLoginCmd(app),
		newWhoamiCmd(app),
		newLogoutCmd(app),
	)
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	if a.configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("locate config: %w", err)
		}
		a.configPath = p
	}
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	a.cfg = cfg

	if a.log == nil {
		a.log = log.New()
		a.log.SetOutput(cmd.ErrOrStderr())
		a.log.SetLevel(log.WarnLevel)
	}
	if a.debug {
		a.log.SetLevel(log.DebugLevel)
	}
	return nil
}

// controller loads the board and routes notices to the command output.
func (a *App) controller(cmd *cobra.Command) (*board.Controller, error) {
	store := board.NewStore(a.NewBackend(a.cfg), a.log)
	ctrl := board.NewController(store, a.log, board.WithNotifier(printNotifier(cmd)))
	if err := store.Load(cmd.Context()); err != nil {
		return nil, err
	}
	return ctrl, nil
}

func printNotifier(cmd *cobra.Command) board.Notifier {
	return board.NotifierFunc(func(n board.Notice) {
		if n.Level == board.LevelError {
			fmt.Fprintln(cmd.ErrOrStderr(), n.Message)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), n.Message)
	})
}
