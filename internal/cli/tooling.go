package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/puzzlegate/internal/devserver"
	"github.com/roach88/puzzlegate/internal/harness"
)

// DevServerOptions holds flags for the devserver command.
type DevServerOptions struct {
	*RootOptions
	Addr    string
	Origins []string
	NoSeed  bool
}

// NewDevServerCommand creates the devserver command.
func NewDevServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory forum service for local use",
		Long: `Run an in-memory forum service that speaks the same HTTP API the
client uses. State is lost when the process exits.

The service starts with an admin account (admin/admin), three puzzles and
four threads unless --no-seed is given. Prometheus metrics are served on
/metrics.

Examples:
  puzzlegate devserver
  puzzlegate devserver --addr :9000 --origin http://localhost:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServer(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringSliceVar(&opts.Origins, "origin", nil, "allowed CORS origin (repeatable)")
	cmd.Flags().BoolVar(&opts.NoSeed, "no-seed", false, "start with no users, puzzles or threads")

	return cmd
}

func runDevServer(cmd *cobra.Command, opts *DevServerOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	addr := opts.Addr
	if addr == "" {
		addr = cfg.DevServer.Addr
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	serverOpts := []devserver.Option{
		devserver.WithLogger(logger),
		devserver.WithMetrics(reg),
	}
	if len(opts.Origins) > 0 {
		serverOpts = append(serverOpts, devserver.WithAllowedOrigins(opts.Origins...))
	}
	if opts.NoSeed {
		serverOpts = append(serverOpts, devserver.WithoutSeed())
	}
	srv, err := devserver.New(serverOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start devserver", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Forum service listening on %s\n", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "devserver error", err)
	}
	logger.Info("devserver stopped")
	return nil
}

// ScenarioRunResult is the output of the scenario command.
type ScenarioRunResult struct {
	*harness.SuiteResult
}

// WriteText implements TextWriter.
func (r ScenarioRunResult) WriteText(w io.Writer) error {
	if r.Total == 0 {
		_, err := fmt.Fprintln(w, "No scenarios found.")
		return err
	}
	for _, f := range r.Failures {
		name := f.Name
		if name == "" {
			name = f.Path
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		fmt.Fprintf(w, "  %s\n", f.Error)
	}
	_, err := fmt.Fprintf(w, "%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return err
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Run YAML client scenarios against an in-process forum service",
		Long: `Run scenario files. Each scenario drives a fresh client against a fresh
in-process forum service and checks the recorded trace and final state.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid path, etc.)

Examples:
  puzzlegate scenario ./scenarios
  puzzlegate scenario ./scenarios/unlock.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			res, err := harness.RunDir(commandContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to run scenarios", err)
			}
			if err := out.Success(ScenarioRunResult{SuiteResult: res}); err != nil {
				return err
			}
			if res.Failed > 0 {
				// Already reported in the summary.
				return &ExitError{Code: ExitFailure}
			}
			return nil
		},
	}
}
