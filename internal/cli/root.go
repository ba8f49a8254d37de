// Package cli implements the lostfound command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-lostfound-client/internal/config"
	"github.com/tbourn/go-lostfound-client/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

// state is shared by the commands of one root.
type state struct {
	envFiles  []string
	profile   string
	statePath string
	apiURL    string
	logLevel  string

	cfg config.Config
	app *App
}

// NewRootCmd builds the command tree. Commands that talk to the backend open
// the App lazily; it is closed after the command returns.
func NewRootCmd() *cobra.Command {
	st := &state{}
	root := &cobra.Command{
		Use:   "lostfound",
		Short: "Campus lost & found client",
		Long: `lostfound signs in to the campus lost & found service, lists and
opens conversations about items, chats in real time and runs the close
handshake. "lostfound fakeapi" starts a local backend for development.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.load(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringSliceVar(&st.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	pf.StringVar(&st.profile, "profile", "", "credential profile (overrides PROFILE)")
	pf.StringVar(&st.statePath, "state", "", "local state database (overrides STATE_PATH)")
	pf.StringVar(&st.apiURL, "api", "", "REST base URL (overrides API_BASE_URL)")
	pf.StringVar(&st.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newLoginCmd(st),
		newRegisterCmd(st),
		newLogoutCmd(st),
		newWhoamiCmd(st),
		newThreadsCmd(st),
		newOpenCmd(st),
		newChatCmd(st),
		newCloseCmd(st),
		newItemsCmd(st),
		newFakeAPICmd(st),
	)
	st.closeAfter(root)
	return root
}

// closeAfter makes every command release the App when it returns, whether or
// not it failed.
func (st *state) closeAfter(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		st.closeAfter(c)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if st.app == nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cerr := st.app.Close(ctx)
		st.app = nil
		if err != nil {
			return err
		}
		return cerr
	}
}

// Execute runs the root command with ctx and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (st *state) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(st.envFiles...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if st.profile != "" {
		_ = os.Setenv("PROFILE", st.profile)
	}
	if st.statePath != "" {
		_ = os.Setenv("STATE_PATH", st.statePath)
	}
	if st.apiURL != "" {
		_ = os.Setenv("API_BASE_URL", st.apiURL)
	}
	if st.logLevel != "" {
		_ = os.Setenv("LOG_LEVEL", st.logLevel)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st.cfg = cfg
	observability.SetupLogging(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())
	return nil
}

// open wires the App on first use.
func (st *state) open(cmd *cobra.Command) (*App, error) {
	if st.app != nil {
		return st.app, nil
	}
	app, err := OpenApp(cmd.Context(), st.cfg)
	if err != nil {
		return nil, err
	}
	st.app = app
	return app, nil
}

// session opens the App and requires a signed-in session.
func (st *state) session(cmd *cobra.Command) (*App, error) {
	app, err := st.open(cmd)
	if err != nil {
		return nil, err
	}
	if err := app.RequireSession(cmd.Context()); err != nil {
		return nil, err
	}
	return app, nil
}
