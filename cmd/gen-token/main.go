package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/api"
	"taskboard/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		count  int
		prefix string
		start  int
		output string
		ttl    time.Duration
		email  string
	)
	cmd := &cobra.Command{
		Use:   "gen-token [user-id]",
		Short: "Mint development session tokens signed with JWT_SECRET",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("count must be at least 1")
			}
			if start < 1 {
				return errors.New("start index must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user ID cannot be provided when generating multiple tokens")
			}
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("missing JWT_SECRET")
			}

			tokens, err := generateTokens(api.NewSessionAuth([]byte(secret), ttl), count, prefix, start, email, args)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&prefix, "prefix", "dev-user", "prefix for generated user IDs when count > 1")
	cmd.Flags().IntVar(&start, "start", 1, "starting index for generated user IDs when count > 1")
	cmd.Flags().StringVar(&output, "output", "", "file to write generated tokens as a JSON array")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&email, "email", "", "email claim for a single token")
	return cmd
}

func generateTokens(auth *api.SessionAuth, count int, prefix string, start int, email string, args []string) ([]string, error) {
	tokens := make([]string, count)
	for i := 0; i < count; i++ {
		u := domain.User{}
		switch {
		case len(args) > 0:
			u.ID = args[0]
		case count == 1:
			u.ID = prefix
		default:
			u.ID = fmt.Sprintf("%s-%d", prefix, start+i)
		}
		if count == 1 {
			u.Email = email
		}
		tok, _, err := auth.Issue(u)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := sonic.ConfigStd.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
