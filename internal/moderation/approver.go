// Package moderation turns moderator decisions into consequences.
//
// Approving a queued change submits, in order: InstallApproveHook for the
// change, then ApproveEdit or ApproveMove, then MarkAsMerged on success.
// Batches share one approve-hook registry, which is cleared before and
// after every batch.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/modqueue/internal/approvehook"
	"github.com/roach88/modqueue/internal/consequence"
	"github.com/roach88/modqueue/internal/merge"
	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/tracing"
	"github.com/roach88/modqueue/internal/wiki"
)

// PendingReader loads queue rows.
type PendingReader interface {
	ReadPendingChange(ctx context.Context, id int64) (store.PendingChange, error)
	PendingByAuthor(ctx context.Context, userName string) ([]store.PendingChange, error)
}

// ContentReader reads revision text for previews.
type ContentReader interface {
	LatestVersion(ctx context.Context, title wiki.Title) (int64, error)
	ContentAt(ctx context.Context, revID int64) (string, error)
}

// Approver approves queued changes.
type Approver struct {
	manager  consequence.Manager
	pending  PendingReader
	hooks    *approvehook.Registry
	docs     ContentReader
	tracer   *tracing.Tracer
	logger   *slog.Logger
	newBatch func() string
}

// Option configures an Approver.
type Option func(*Approver)

// WithBatchIDs sets the batch id generator. Defaults to UUIDv7.
func WithBatchIDs(gen func() string) Option {
	return func(a *Approver) { a.newBatch = gen }
}

// WithTracer opens a span per batch.
func WithTracer(t *tracing.Tracer) Option {
	return func(a *Approver) { a.tracer = t }
}

// WithLogger sets the approver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Approver) { a.logger = l }
}

// NewApprover creates an approver submitting to manager.
func NewApprover(manager consequence.Manager, pending PendingReader, hooks *approvehook.Registry, docs ContentReader, opts ...Option) *Approver {
	a := &Approver{
		manager:  manager,
		pending:  pending,
		hooks:    hooks,
		docs:     docs,
		tracer:   tracing.Noop(),
		logger:   slog.Default(),
		newBatch: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Outcome is the result of approving one queue row.
type Outcome struct {
	ModID  int64
	Result consequence.Result
}

// BatchReport summarizes a batch.
type BatchReport struct {
	BatchID  string
	Outcomes []Outcome
}

// Succeeded counts successful outcomes.
func (r BatchReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result.IsOK() {
			n++
		}
	}
	return n
}

// Approve approves a single queued change as its own batch.
func (a *Approver) Approve(ctx context.Context, modID int64) consequence.Result {
	report := a.ApproveBatch(ctx, []int64{modID})
	return report.Outcomes[0].Result
}

// ApproveBatch approves ids in order. A failure does not stop the batch.
func (a *Approver) ApproveBatch(ctx context.Context, ids []int64) BatchReport {
	report := BatchReport{BatchID: a.newBatch()}

	ctx, span := a.tracer.Start(ctx, "moderation.batch", map[string]string{"batch.id": report.BatchID})
	a.hooks.Reset()
	defer func() {
		a.hooks.Reset()
		span.SetAttributes(map[string]string{
			"batch.size":      fmt.Sprint(len(ids)),
			"batch.succeeded": fmt.Sprint(report.Succeeded()),
		})
		span.End(nil)
	}()

	for _, id := range ids {
		res := a.approveOne(ctx, id)
		report.Outcomes = append(report.Outcomes, Outcome{ModID: id, Result: res})
		if res.IsOK() {
			a.logger.Info("change approved", "batch", report.BatchID, "mod_id", id)
		} else {
			a.logger.Warn("change not approved", "batch", report.BatchID, "mod_id", id, "code", res.Code(), "error", res.Err,
				"retryable", consequence.IsPreconditionFailed(res.Err))
		}
	}
	return report
}

// ApproveAll approves every open change by author, oldest first.
func (a *Approver) ApproveAll(ctx context.Context, author string) (BatchReport, error) {
	changes, err := a.pending.PendingByAuthor(ctx, author)
	if err != nil {
		return BatchReport{}, fmt.Errorf("approve all by %s: %w", author, err)
	}
	ids := make([]int64, 0, len(changes))
	for _, pc := range changes {
		ids = append(ids, pc.ID)
	}
	if len(ids) == 0 {
		return BatchReport{BatchID: a.newBatch()}, nil
	}
	return a.ApproveBatch(ctx, ids), nil
}

// InstallMetadataOverride submits an InstallApproveHook outside any batch.
// The task lives until the next batch starts.
func (a *Approver) InstallMetadataOverride(ctx context.Context, title wiki.Title, user wiki.User, kind wiki.ChangeKind, task approvehook.Task) consequence.Result {
	return a.manager.Add(ctx, consequence.InstallApproveHook{Title: title, User: user, ChangeKind: kind, Task: task})
}

func (a *Approver) approveOne(ctx context.Context, modID int64) consequence.Result {
	pc, err := a.pending.ReadPendingChange(ctx, modID)
	if errors.Is(err, store.ErrPendingNotFound) {
		return consequence.Fatal(&consequence.Failure{Code: consequence.CodeNotFound, Message: "no such queued change", ModID: modID, Err: err})
	}
	if err != nil {
		return consequence.Fatal(&consequence.Failure{Code: consequence.CodeStoreRejected, Message: "read queued change", ModID: modID, Err: err})
	}
	if pc.Merged() || pc.Rejected {
		return consequence.Fatal(&consequence.Failure{Code: consequence.CodeAlreadyMerged, Message: "change already decided", ModID: modID})
	}

	title, err := wiki.NewTitle(pc.Title)
	if err != nil {
		return consequence.Fatal(&consequence.Failure{Code: consequence.CodeStoreRejected, Message: "invalid title", ModID: modID, Err: err})
	}
	user := wiki.User{ID: pc.UserID, Name: pc.UserName}
	kind, err := changeKind(pc.Kind)
	if err != nil {
		return consequence.Fatal(&consequence.Failure{Code: consequence.CodeStoreRejected, Message: "unsupported change kind", ModID: modID, Err: err})
	}

	install := a.manager.Add(ctx, consequence.InstallApproveHook{
		Title:      title,
		User:       user,
		ChangeKind: kind,
		Task:       taskFor(pc),
	})
	if !install.IsOK() {
		return install
	}

	var (
		res   consequence.Result
		revID int64
	)
	switch kind {
	case wiki.KindMove:
		to, err := wiki.NewTitle(pc.NewTitle)
		if err != nil {
			return consequence.Fatal(&consequence.Failure{Code: consequence.CodeStoreRejected, Message: "invalid destination title", ModID: modID, Err: err})
		}
		res = a.manager.Add(ctx, consequence.ApproveMove{
			ModID:         modID,
			From:          title,
			To:            to,
			User:          user,
			Reason:        pc.Comment,
			LeaveRedirect: true,
		})
		if out, ok := res.Value.(consequence.MoveOutcome); ok {
			revID = out.RevisionID
		}
	case wiki.KindEdit:
		res = a.manager.Add(ctx, consequence.ApproveEdit{
			ModID:     modID,
			Title:     title,
			User:      user,
			NewText:   pc.Text,
			Comment:   pc.Comment,
			BaseRevID: pc.BaseRevID,
			Minor:     pc.Minor,
			Bot:       pc.Bot,
		})
		if out, ok := res.Value.(consequence.EditOutcome); ok {
			revID = out.RevisionID
		}
	}
	if !res.IsOK() {
		return res
	}

	if mark := a.manager.Add(ctx, consequence.MarkAsMerged{ModID: modID, RevID: revID}); !mark.IsOK() {
		return mark
	}
	return res
}

// changeKind maps a stored kind to one the approver can apply. Uploads and
// other kinds queued by other tools are left for a moderator to handle.
func changeKind(kind string) (wiki.ChangeKind, error) {
	switch wiki.ChangeKind(kind) {
	case wiki.KindEdit:
		return wiki.KindEdit, nil
	case wiki.KindMove:
		return wiki.KindMove, nil
	}
	return "", fmt.Errorf("change kind %q cannot be approved", kind)
}

// taskFor carries the submitter's metadata. The timestamp is the time the
// change was queued.
func taskFor(pc store.PendingChange) approvehook.Task {
	return approvehook.Task{
		IP:        pc.IP,
		XFF:       pc.XFF,
		UserAgent: pc.UserAgent,
		Tags:      approvehook.ParseTags(pc.Tags),
		Timestamp: pc.Timestamp,
	}
}

// Preview is a diff of a queued change against the page text it was based
// on and against the current page text.
type Preview struct {
	ModID         int64       `json:"mod_id"`
	Title         string      `json:"title"`
	Kind          string      `json:"kind"`
	Author        string      `json:"author"`
	BaseRevID     int64       `json:"base_rev_id"`
	LatestRevID   int64       `json:"latest_rev_id"`
	Diff          string      `json:"diff"`
	Stats         merge.Stats `json:"stats"`
	Conflict      bool        `json:"conflict"`
	WouldConflict bool        `json:"would_conflict"`
}

// Preview renders a queued edit as a unified diff against its base
// revision and predicts whether approval would conflict.
func (a *Approver) Preview(ctx context.Context, modID int64) (Preview, error) {
	pc, err := a.pending.ReadPendingChange(ctx, modID)
	if err != nil {
		return Preview{}, err
	}
	title, err := wiki.NewTitle(pc.Title)
	if err != nil {
		return Preview{}, err
	}
	p := Preview{
		ModID:     pc.ID,
		Title:     string(title),
		Kind:      pc.Kind,
		Author:    pc.UserName,
		BaseRevID: pc.BaseRevID,
		Conflict:  pc.Conflict,
	}
	if wiki.ChangeKind(pc.Kind) == wiki.KindMove {
		p.Diff = fmt.Sprintf("move %s -> %s\n", pc.Title, pc.NewTitle)
		return p, nil
	}

	var base string
	if pc.BaseRevID != 0 {
		if base, err = a.docs.ContentAt(ctx, pc.BaseRevID); err != nil {
			return Preview{}, err
		}
	}
	if p.Diff, err = merge.UnifiedDiff(base, pc.Text, string(title)); err != nil {
		return Preview{}, err
	}
	if p.Stats, err = merge.DiffStats(p.Diff); err != nil {
		return Preview{}, err
	}

	if p.LatestRevID, err = a.docs.LatestVersion(ctx, title); err != nil {
		return Preview{}, err
	}
	if p.LatestRevID != 0 && p.LatestRevID != pc.BaseRevID {
		current, err := a.docs.ContentAt(ctx, p.LatestRevID)
		if err != nil {
			return Preview{}, err
		}
		_, ok := merge.Merge3(base, pc.Text, current)
		p.WouldConflict = !ok
	}
	return p, nil
}
