package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/modqueue/internal/authz"
	"github.com/roach88/modqueue/internal/config"
	"github.com/roach88/modqueue/internal/moderation"
	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/tracing"
	"github.com/roach88/modqueue/internal/wiki"
)

// Version is reported in trace resources.
var Version = "dev"

// runtime is everything a command needs, opened from config and flags.
type runtime struct {
	cfg       *config.Config
	st        *store.Store
	rights    *authz.Enforcer
	tracer    *tracing.Tracer
	logger    *slog.Logger
	stack     *moderation.Stack
	moderator wiki.User
	out       *OutputFormatter
}

// openRuntime loads config, configures logging, opens the database and
// wires the approval stack. The caller must call close.
func openRuntime(cmd *cobra.Command, opts *RootOptions, dryRun bool) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	rights, err := loadRights(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load rights policy", err)
	}

	tracer := tracing.Noop()
	if cfg.Trace.Enabled {
		if tracer, err = tracing.NewStdout("modq", Version, cfg.Trace.Output); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to start tracing", err)
		}
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "path", cfg.Database)

	moderator := wiki.User{Name: cfg.Moderator.Name}
	stack := moderation.NewStack(st, moderation.StackOptions{
		Rights:          rights,
		Origin:          wiki.Origin{IP: cfg.Moderator.IP, UserAgent: cfg.Moderator.UserAgent},
		Tracer:          tracer,
		Logger:          logger,
		MaxContentBytes: cfg.MaxContentBytes,
		DryRun:          dryRun,
	})

	return &runtime{
		cfg:       cfg,
		st:        st,
		rights:    rights,
		tracer:    tracer,
		logger:    logger,
		stack:     stack,
		moderator: moderator,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

func (rt *runtime) close() {
	if err := rt.tracer.Shutdown(context.Background()); err != nil {
		rt.logger.Error("error flushing traces", "error", err)
	}
	if err := rt.st.Close(); err != nil {
		rt.logger.Error("error closing database", "error", err)
	}
}

// requireModerator fails unless the configured moderator holds the
// moderation right.
func (rt *runtime) requireModerator() error {
	if !rt.rights.Allowed(rt.moderator, authz.RightModerate) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("%s does not have the %q right", rt.moderator.Name, authz.RightModerate))
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	level := cfg.Log.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// loadRights reads the policy file, or falls back to the built-in policy
// with the configured moderator in the moderator group.
func loadRights(cfg *config.Config) (*authz.Enforcer, error) {
	if cfg.Policy != "" {
		return authz.Load(cfg.Policy)
	}
	e, err := authz.New()
	if err != nil {
		return nil, err
	}
	if err := e.AddToGroup(cfg.Moderator.Name, "moderator"); err != nil {
		return nil, err
	}
	return e, nil
}
