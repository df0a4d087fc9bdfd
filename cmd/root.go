package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/isometry/groupsync/internal/groupmap"
	ldapclient "github.com/isometry/groupsync/internal/ldap"
	"github.com/isometry/groupsync/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFatal      = 1
	ExitErrors     = 2
	ExitConnection = 3
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return ExitFatal
}

// ConnectFunc opens a directory session.
type ConnectFunc func(ctx context.Context, cfg *ldapclient.ConnectionConfig, logger logging.Logger) (ldapclient.Client, error)

// deps are the process-level collaborators, replaced in tests.
type deps struct {
	stdout io.Writer
	stderr io.Writer

	connect   ConnectFunc
	resolver  ldapclient.Resolver
	runner    groupmap.Runner
	newLogger func(cfg logging.Config) (logging.Logger, error)
}

func defaultDeps() *deps {
	return &deps{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		connect: negotiate,
		newLogger: func(cfg logging.Config) (logging.Logger, error) {
			return logging.New(cfg)
		},
	}
}

func negotiate(ctx context.Context, cfg *ldapclient.ConnectionConfig, logger logging.Logger) (ldapclient.Client, error) {
	session, err := ldapclient.NewNegotiator(cfg, ldapclient.NetDialer{Timeout: cfg.Timeout}, logger).Negotiate(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, os.Args[1:], defaultDeps())
}

func run(ctx context.Context, args []string, d *deps) int {
	rootCmd := newRootCmd(d)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(d.stdout)
	rootCmd.SetErr(d.stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(d.stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitOK
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	envFile   string
	logLevel  string
	logFormat string
	logFile   string
}

func (f *globalFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.envFile, "env-file", "", "Environment file to load (default .env when present)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: console or json (default console on a terminal)")
	fs.StringVar(&f.logFile, "log-file", "", "Also write logs to this file, rotated daily")
}

func newRootCmd(d *deps) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "groupsync",
		Short: "Reconcile POSIX group membership in an LDAP directory",
		Long: `groupsync keeps memberUid lists in step with the account records that
imply them.

Business groups contain every account whose primary gidNumber matches the
group. Classification groups contain every account whose employment marker
resolves to that classification.

Runs are dry runs unless --apply is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newSyncCmd(d, flags))
	rootCmd.AddCommand(newValidateRegistryCmd(d, flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
