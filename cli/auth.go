package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New("not logged in: run taskboard login")

func newLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store a session token in the config file",
		Long: "Sign in with Google at <server>/auth/google, copy the value of the\n" +
			"\"token\" cookie and pass it to this command.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := app.cfg.Token
			if len(args) == 1 {
				token = strings.TrimSpace(args[0])
			}
			if token == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Open %s/auth/google in a browser, then run: taskboard login <token>\n", strings.TrimRight(app.cfg.Server, "/"))
				return nil
			}

			app.cfg.Token = token
			sess, err := app.NewBackend(app.cfg).Session(cmd.Context())
			if err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if !sess.Authenticated {
				return errors.New("token rejected by server")
			}
			if err := SaveConfig(app.configPath, app.cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", displayName(sess.Email, sess.UserID))
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account of the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.Token == "" {
				return errNotLoggedIn
			}
			sess, err := app.NewBackend(app.cfg).Session(cmd.Context())
			if err != nil {
				return err
			}
			if !sess.Authenticated {
				return errNotLoggedIn
			}
			fmt.Fprintln(cmd.OutOrStdout(), displayName(sess.Email, sess.UserID))
			return nil
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigFile(app.configPath)
			if err != nil {
				return err
			}
			cfg.Token = ""
			cfg.applyDefaults()
			if err := SaveConfig(app.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func displayName(email, userID string) string {
	if email != "" {
		return fmt.Sprintf("%s (%s)", email, userID)
	}
	return userID
}
