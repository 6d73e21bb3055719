package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/puzzlegate/internal/client"
	"github.com/roach88/puzzlegate/internal/config"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/metrics"
	"github.com/roach88/puzzlegate/internal/remote"
	"github.com/roach88/puzzlegate/internal/session"
	"github.com/roach88/puzzlegate/internal/store"
	"github.com/roach88/puzzlegate/internal/vote"
)

// app is the wiring behind every forum command: configuration, the local
// database, the optional Redis vote backend and the client.
type app struct {
	opts    *RootOptions
	cfg     *config.Config
	logger  *slog.Logger
	out     *OutputFormatter
	store   *store.Store
	redis   *redis.Client
	reg     *prometheus.Registry
	client  *client.Client
	cleanup []func() error
}

// newLogger returns a text logger on w. Verbose mode logs at debug level.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}
	cfg, err := config.Load(config.Options{Path: opts.ConfigPath, EnvFiles: envFiles})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openApp builds the client from configuration and restores the persisted
// session. With load set, a restored session also fetches the forum. The
// caller must Close the app.
func openApp(cmd *cobra.Command, opts *RootOptions, load bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{
		opts:   opts,
		cfg:    cfg,
		logger: newLogger(cmd.ErrOrStderr(), opts.Verbose),
		out:    newFormatter(cmd, opts),
		reg:    prometheus.NewRegistry(),
	}
	if err := a.open(commandContext(cmd), load); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, load bool) error {
	path := a.cfg.Store.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create data directory", err)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a.store = st
	a.cleanup = append(a.cleanup, st.Close)
	a.logger.Debug("store opened", "path", path)

	m := metrics.New(a.reg)
	rc, err := remote.New(a.cfg.Remote.BaseURL,
		remote.WithTimeout(a.cfg.Remote.TimeoutDuration()),
		remote.WithMetrics(m),
		remote.WithLogger(a.logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid remote base url", err)
	}

	states, err := a.stateFactory(ctx)
	if err != nil {
		return err
	}

	sess := session.NewManager(st, rc,
		session.WithLogger(a.logger),
		session.WithLogoutHook(func(ctx context.Context, u forum.User) error {
			return states(u.Username).Clear(ctx)
		}),
	)
	a.client = client.New(rc, sess,
		client.WithStateFactory(states),
		client.WithRollbackOnFailure(a.cfg.Votes.RollbackOnFailure),
		client.WithPerPage(a.cfg.Listing.PerPage),
		client.WithOnVoteFailure(a.reportVoteFailure),
		client.WithMetrics(m),
		client.WithLogger(a.logger),
	)
	// Runs before the store closes so pending confirmations drain.
	a.cleanup = append(a.cleanup, a.client.Close)

	if load {
		_, err = a.client.Restore(ctx)
	} else {
		_, err = a.client.Session().Restore(ctx)
	}
	return err
}

// stateFactory selects the vote state backend.
func (a *app) stateFactory(ctx context.Context) (client.StateFactory, error) {
	switch a.cfg.Votes.Backend {
	case config.BackendMemory:
		return func(string) vote.StateStore { return vote.NewMemoryState() }, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.cleanup = append(a.cleanup, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis at "+a.cfg.Redis.Addr, err)
		}
		a.redis = rdb
		prefix := a.cfg.Redis.Prefix
		return func(actor string) vote.StateStore {
			return vote.NewRedisState(rdb, actor, prefix)
		}, nil

	default:
		st := a.store
		return func(actor string) vote.StateStore { return st.Votes(actor) }, nil
	}
}

func (a *app) reportVoteFailure(f vote.Failure) {
	switch {
	case f.RolledBack:
		a.out.VerboseLog("vote on %s was rejected and rolled back: %v", f.Key, f.Err)
	case f.Superseded:
		a.out.VerboseLog("vote on %s was rejected; a later vote or reload replaced it: %v", f.Key, f.Err)
	default:
		a.out.VerboseLog("vote on %s was rejected and kept: %v", f.Key, f.Err)
	}
}

// Close releases resources in reverse order of acquisition and writes the
// metrics textfile when requested.
func (a *app) Close() error {
	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil

	if a.opts.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(a.opts.MetricsOut, a.reg); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// withApp runs fn with an opened app, the forum loaded for a signed-in
// user, and closes it afterwards.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, opts, true, fn)
}

// withSession is withApp without fetching the forum.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, opts, false, fn)
}

func runApp(cmd *cobra.Command, opts *RootOptions, load bool, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := openApp(cmd, opts, load)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "failed to close", cerr)
		}
	}()
	return fn(commandContext(cmd), a)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
