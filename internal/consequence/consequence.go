// Package consequence models every side effect of an approval as a value.
//
// A Consequence names one effect (write a page, mark a queue row, install
// submitter metadata) and carries everything needed to perform it. Callers
// hand consequences to a Manager: RealManager performs them immediately and
// in order, MockManager only records them so tests and dry runs can inspect
// what an approval would do.
package consequence

import (
	"context"
	"log/slog"

	"github.com/roach88/modqueue/internal/approvehook"
	"github.com/roach88/modqueue/internal/wiki"
)

// Kind identifies a consequence variant.
type Kind string

const (
	KindApproveEdit        Kind = "approve-edit"
	KindApproveMove        Kind = "approve-move"
	KindInstallApproveHook Kind = "install-approve-hook"
	KindMarkAsMerged       Kind = "mark-as-merged"
)

// Consequence is one side effect.
type Consequence interface {
	Kind() Kind
	Run(ctx context.Context, env *Env) Result
}

// PendingMarker updates queue rows.
type PendingMarker interface {
	MarkConflict(ctx context.Context, id int64) error
	MarkMerged(ctx context.Context, id, revID int64) error
}

// Env is the shared context consequences run against.
type Env struct {
	Docs    wiki.DocumentStore
	Pending PendingMarker
	Rights  wiki.Rights
	Hooks   *approvehook.Registry
	// Origin is the acting moderator's client metadata; approval writes
	// carry it unless an approve hook task overrides it.
	Origin wiki.Origin
	// Logger receives consequence events. NewManager fills it with the
	// manager's logger when nil.
	Logger *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) allowed(u wiki.User, right string) bool {
	return e.Rights != nil && e.Rights.Allowed(u, right)
}

// Result is the outcome of running a consequence. A nil Err is success and
// Value holds the variant's output; otherwise Err is a *Failure.
type Result struct {
	Value any
	Err   error
}

// OK wraps a successful value.
func OK(v any) Result {
	return Result{Value: v}
}

// Fatal wraps a failure.
func Fatal(f *Failure) Result {
	return Result{Err: f}
}

// IsOK reports success.
func (r Result) IsOK() bool {
	return r.Err == nil
}

// Code returns the failure code, or "" on success.
func (r Result) Code() Code {
	if f, ok := AsFailure(r.Err); ok {
		return f.Code
	}
	return ""
}
