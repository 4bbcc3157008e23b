// Package cli implements cwsearch, a command-line client for the search
// service: log in with ATS credentials, turn free text into keywords and
// follow a streamed search in the terminal.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/spf13/cobra"
)

const app = "cwsearch"

type options struct {
	server    string
	tokenFile string
	debug     bool
	json      bool
}

// NewRootCommand builds the command tree. Execute in cmd/cwsearch runs it.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           app,
		Short:         "cwsearch searches ATS candidates through the search service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if opts.debug {
				level = "debug"
			}
			format := "text"
			if opts.json {
				format = "json"
			}
			logger.SetupWriter(cmd.ErrOrStderr(), level, format)
		},
	}

	root.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("CW_SERVER_URL", "http://localhost:8080"), "search service base URL")
	root.PersistentFlags().StringVar(&opts.tokenFile, "token-file", envOr("CW_TOKEN_FILE", defaultTokenFile()), "where the session token is kept")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "verbose/debug output")
	root.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "json output")

	root.AddCommand(
		newLoginCommand(opts),
		newWhoamiCommand(opts),
		newLogoutCommand(opts),
		newKeywordsCommand(opts),
		newSearchCommand(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "." + app + "-token"
	}
	return filepath.Join(dir, app, "token")
}

var errNotLoggedIn = errors.New("not logged in, run `cwsearch login` first")

func (o *options) readToken() (string, error) {
	if t := os.Getenv("CW_SESSION_TOKEN"); t != "" {
		return t, nil
	}
	b, err := os.ReadFile(o.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", errNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errNotLoggedIn
	}
	return token, nil
}

func (o *options) writeToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(o.tokenFile), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(o.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

func (o *options) clearToken() error {
	if err := os.Remove(o.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (o *options) client() (*Client, error) {
	token, err := o.readToken()
	if err != nil {
		return nil, err
	}
	return NewClient(o.server, token), nil
}
