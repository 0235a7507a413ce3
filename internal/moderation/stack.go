package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/modqueue/internal/approvehook"
	"github.com/roach88/modqueue/internal/consequence"
	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/tracing"
	"github.com/roach88/modqueue/internal/wiki"
)

// StackOptions configures NewStack.
type StackOptions struct {
	Rights          wiki.Rights
	Origin          wiki.Origin
	Clock           func() time.Time
	BatchIDs        func() string
	Tracer          *tracing.Tracer
	Logger          *slog.Logger
	MaxContentBytes int
	// DryRun records consequences in a MockManager instead of running them.
	DryRun bool
}

// Stack is a fully wired approval pipeline over one database.
type Stack struct {
	Store    *store.Store
	Docs     *wiki.Store
	Hooks    *approvehook.Registry
	Manager  consequence.Manager
	Approver *Approver
}

// NewStack wires the document store, approve hook, consequence manager and
// approver together.
func NewStack(st *store.Store, opts StackOptions) *Stack {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}

	wikiOpts := []wiki.Option{wiki.WithLogger(logger)}
	if opts.Clock != nil {
		wikiOpts = append(wikiOpts, wiki.WithClock(opts.Clock))
	}
	if opts.Rights != nil {
		wikiOpts = append(wikiOpts, wiki.WithRights(opts.Rights))
	}
	if opts.MaxContentBytes > 0 {
		wikiOpts = append(wikiOpts, wiki.WithMaxContentBytes(opts.MaxContentBytes))
	}
	docs := wiki.New(st, wikiOpts...)

	hooks := approvehook.NewRegistry(approvehook.WithLogger(logger))
	approvehook.NewHook(hooks, docs, approvehook.WithLogger(logger)).Register(docs)

	var manager consequence.Manager
	if opts.DryRun {
		manager = consequence.NewMockManager()
	} else {
		manager = consequence.NewManager(&consequence.Env{
			Docs:    docs,
			Pending: st,
			Rights:  opts.Rights,
			Hooks:   hooks,
			Origin:  opts.Origin,
		}, consequence.WithTracer(tracer), consequence.WithLogger(logger))
	}

	approverOpts := []Option{WithTracer(tracer), WithLogger(logger)}
	if opts.BatchIDs != nil {
		approverOpts = append(approverOpts, WithBatchIDs(opts.BatchIDs))
	}

	return &Stack{
		Store:    st,
		Docs:     docs,
		Hooks:    hooks,
		Manager:  manager,
		Approver: NewApprover(manager, st, hooks, docs, approverOpts...),
	}
}

// Submission is a change to queue.
type Submission struct {
	Kind     wiki.ChangeKind
	Title    string
	NewTitle string
	User     wiki.User
	Origin   wiki.Origin
	Text     string
	Comment  string
	Tags     []string
	Minor    bool
	Bot      bool
	At       time.Time
}

// Submit queues a change, recording the page's current latest revision as
// its base.
func (s *Stack) Submit(ctx context.Context, sub Submission) (int64, error) {
	title, err := wiki.NewTitle(sub.Title)
	if err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	kind := sub.Kind
	if kind == "" {
		kind = wiki.KindEdit
	}
	if _, err := changeKind(string(kind)); err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	pc := store.PendingChange{
		Timestamp: sub.At,
		UserID:    sub.User.ID,
		UserName:  sub.User.Name,
		Kind:      string(kind),
		Title:     string(title),
		Comment:   sub.Comment,
		Minor:     sub.Minor,
		Bot:       sub.Bot,
		IP:        sub.Origin.IP,
		XFF:       sub.Origin.XFF,
		UserAgent: sub.Origin.UserAgent,
		Text:      sub.Text,
	}
	for i, tag := range sub.Tags {
		if i > 0 {
			pc.Tags += "\n"
		}
		pc.Tags += tag
	}
	if kind == wiki.KindMove {
		to, err := wiki.NewTitle(sub.NewTitle)
		if err != nil {
			return 0, fmt.Errorf("submit: %w", err)
		}
		pc.NewTitle = string(to)
	}
	if pc.BaseRevID, err = s.Docs.LatestVersion(ctx, title); err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	pc.IsNew = pc.BaseRevID == 0
	if pc.Timestamp.IsZero() {
		pc.Timestamp = time.Now()
	}
	return s.Store.InsertPendingChange(ctx, pc)
}
