package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/modqueue/internal/authz"
	"github.com/roach88/modqueue/internal/consequence"
	"github.com/roach88/modqueue/internal/moderation"
	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/testutil"
	"github.com/roach88/modqueue/internal/wiki"
)

// Owner authors seeded pages and concurrent edits unless a scenario says
// otherwise.
var Owner = wiki.User{ID: 1, Name: "Owner"}

// Harness executes one scenario.
type Harness struct {
	st     *store.Store
	stack  *moderation.Stack
	clock  *testutil.SteppingClock
	result *Result
	seen   int
}

// Run executes a scenario against a fresh in-memory database and returns
// the trace and any expectation failures.
//
// Execution order:
//  1. create pages
//  2. queue pending changes
//  3. apply concurrent edits
//  4. run approval batches
//  5. check expectations and assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rights, err := authz.New()
	if err != nil {
		return nil, err
	}
	for user, groups := range scenario.Groups {
		for _, g := range groups {
			if err := rights.AddToGroup(user, g); err != nil {
				return nil, err
			}
		}
	}

	clock := testutil.NewSteppingClock(testutil.Epoch, time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		st: st,
		stack: moderation.NewStack(st, moderation.StackOptions{
			Rights:   rights,
			Origin:   wiki.Origin{IP: "127.0.0.1", UserAgent: "modq-harness"},
			Clock:    clock.Now,
			BatchIDs: testutil.NewSequentialIDs("batch").Next,
			Logger:   logger,
		}),
		clock:  clock,
		result: NewResult(),
	}

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, err
	}
	for _, step := range scenario.Approve {
		if err := h.approve(ctx, step); err != nil {
			return nil, err
		}
	}

	h.checkExpectations(ctx, scenario.Expect)
	for _, msg := range EvaluateAssertions(ctx, st, h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	for i, p := range s.Pages {
		if err := h.write(ctx, p.Title, p.Text, p.User); err != nil {
			return fmt.Errorf("pages[%d]: %w", i, err)
		}
	}

	for i, p := range s.Pending {
		var at time.Time
		if p.At != "" {
			at, _ = store.ParseTimestamp(p.At)
		} else {
			at = h.clock.Now()
		}
		kind := wiki.KindEdit
		if p.Kind == string(wiki.KindMove) {
			kind = wiki.KindMove
		}
		_, err := h.stack.Submit(ctx, moderation.Submission{
			Kind:     kind,
			Title:    p.Title,
			NewTitle: p.NewTitle,
			User:     p.User,
			Origin:   wiki.Origin{IP: p.IP, XFF: p.XFF, UserAgent: p.UserAgent},
			Text:     p.Text,
			Comment:  p.Comment,
			Tags:     p.Tags,
			Minor:    p.Minor,
			Bot:      p.Bot,
			At:       at,
		})
		if err != nil {
			return fmt.Errorf("pending[%d]: %w", i, err)
		}
	}

	for i, e := range s.Concurrent {
		if err := h.write(ctx, e.Title, e.Text, e.User); err != nil {
			return fmt.Errorf("concurrent[%d]: %w", i, err)
		}
	}
	return nil
}

// write creates or updates a page directly.
func (h *Harness) write(ctx context.Context, title, text string, user *wiki.User) error {
	t, err := wiki.NewTitle(title)
	if err != nil {
		return err
	}
	u := Owner
	if user != nil {
		u = *user
	}
	docs := h.stack.Docs
	latest, err := docs.LatestVersion(ctx, t)
	if err != nil {
		return err
	}
	req := wiki.EditRequest{Title: t, Text: text, User: u}
	if latest == 0 {
		_, err = docs.CreateDocument(ctx, req)
	} else {
		_, err = docs.UpdateDocument(ctx, req, latest)
	}
	return err
}

func (h *Harness) approve(ctx context.Context, step ApproveStep) error {
	var report moderation.BatchReport
	if step.Author != "" {
		var err error
		if report, err = h.stack.Approver.ApproveAll(ctx, step.Author); err != nil {
			return err
		}
	} else {
		report = h.stack.Approver.ApproveBatch(ctx, step.IDs)
	}

	for _, o := range report.Outcomes {
		h.result.Outcomes[o.ModID] = outcomeName(o.Result)
	}

	rm, ok := h.stack.Manager.(*consequence.RealManager)
	if !ok {
		return errors.New("harness requires a real consequence manager")
	}
	executed := rm.Executed()
	for _, ex := range executed[h.seen:] {
		h.result.AddEvent(traceEvent(report.BatchID, ex))
	}
	h.seen = len(executed)
	return nil
}

func outcomeName(r consequence.Result) string {
	if r.IsOK() {
		return "ok"
	}
	if code := r.Code(); code != "" {
		return string(code)
	}
	return "error"
}

// traceEvent flattens an execution into stable, comparable fields.
func traceEvent(batch string, ex consequence.Execution) TraceEvent {
	ev := TraceEvent{Batch: batch, Kind: string(ex.Consequence.Kind()), Outcome: outcomeName(ex.Result)}

	switch c := ex.Consequence.(type) {
	case consequence.InstallApproveHook:
		ev.Args = map[string]any{
			"title":       string(c.Title),
			"user":        c.User.Name,
			"change_kind": string(c.ChangeKind),
		}
		if c.Task.IP != "" {
			ev.Args["ip"] = c.Task.IP
		}
		if c.Task.UserAgent != "" {
			ev.Args["user_agent"] = c.Task.UserAgent
		}
		if len(c.Task.Tags) > 0 {
			ev.Args["tags"] = c.Task.Tags
		}
		if !c.Task.Timestamp.IsZero() {
			ev.Args["timestamp"] = store.FormatTimestamp(c.Task.Timestamp)
		}
		if replaced, ok := ex.Result.Value.(bool); ok {
			ev.Result = map[string]any{"replaced": replaced}
		}
	case consequence.ApproveEdit:
		ev.ModID = c.ModID
		ev.Args = map[string]any{
			"title":       string(c.Title),
			"user":        c.User.Name,
			"base_rev_id": c.BaseRevID,
		}
		if c.Minor {
			ev.Args["minor"] = true
		}
		if c.Bot {
			ev.Args["bot"] = true
		}
		if out, ok := ex.Result.Value.(consequence.EditOutcome); ok {
			ev.Result = map[string]any{
				"revision_id": out.RevisionID,
				"created":     out.Created,
				"merged":      out.Merged,
			}
		}
	case consequence.ApproveMove:
		ev.ModID = c.ModID
		ev.Args = map[string]any{
			"from":           string(c.From),
			"to":             string(c.To),
			"user":           c.User.Name,
			"leave_redirect": c.LeaveRedirect,
		}
		if out, ok := ex.Result.Value.(consequence.MoveOutcome); ok {
			ev.Result = map[string]any{
				"revision_id": out.RevisionID,
				"log_id":      out.LogID,
			}
		}
	case consequence.MarkAsMerged:
		ev.ModID = c.ModID
		ev.Args = map[string]any{"rev_id": c.RevID}
	}
	return ev
}

func (h *Harness) checkExpectations(ctx context.Context, exp Expectations) {
	for _, pe := range exp.Pages {
		h.checkPage(ctx, pe)
	}

	for _, pe := range exp.Pending {
		pc, err := h.st.ReadPendingChange(ctx, pe.ID)
		if err != nil {
			h.result.AddError(fmt.Sprintf("pending #%d: %v", pe.ID, err))
			continue
		}
		h.expectBool(fmt.Sprintf("pending #%d merged", pe.ID), pe.Merged, pc.Merged())
		h.expectBool(fmt.Sprintf("pending #%d conflict", pe.ID), pe.Conflict, pc.Conflict)
		h.expectBool(fmt.Sprintf("pending #%d rejected", pe.ID), pe.Rejected, pc.Rejected)
	}

	for _, oe := range exp.Outcomes {
		got, ok := h.result.Outcomes[oe.ID]
		if !ok {
			h.result.AddError(fmt.Sprintf("outcome #%d: never approved", oe.ID))
			continue
		}
		h.expectEqual(fmt.Sprintf("outcome #%d", oe.ID), oe.Code, got)
	}
}

func (h *Harness) checkPage(ctx context.Context, pe PageExpect) {
	docs := h.stack.Docs
	name := "page " + pe.Title
	title, err := wiki.NewTitle(pe.Title)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		return
	}
	latest, err := docs.LatestVersion(ctx, title)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		return
	}
	if pe.Missing || latest == 0 {
		if pe.Missing != (latest == 0) {
			h.result.AddError(fmt.Sprintf("%s: expected missing=%t, latest revision %d", name, pe.Missing, latest))
		}
		return
	}

	rev, err := docs.Revision(ctx, latest)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		return
	}
	if pe.Text != nil {
		h.expectEqual(name+" text", *pe.Text, rev.Text)
	}
	if pe.Author != "" {
		h.expectEqual(name+" author", pe.Author, rev.User.Name)
	}
	if pe.Timestamp != "" {
		h.expectEqual(name+" timestamp", pe.Timestamp, store.FormatTimestamp(rev.Timestamp))
	}
	h.expectBool(name+" minor", pe.Minor, rev.Minor)
	if pe.Revisions > 0 {
		revs, err := docs.Revisions(ctx, title)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		} else if len(revs) != pe.Revisions {
			h.result.AddError(fmt.Sprintf("%s: expected %d revisions, got %d", name, pe.Revisions, len(revs)))
		}
	}

	if pe.IP != "" || pe.UserAgent != "" || pe.Bot != nil {
		rc, err := docs.RecentChangeFor(ctx, latest)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		} else {
			h.expectBool(name+" bot", pe.Bot, rc.Bot)
		}
		tr, err := docs.TrackingFor(ctx, latest)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		} else {
			if pe.IP != "" {
				h.expectEqual(name+" ip", pe.IP, tr.IP)
			}
			if pe.UserAgent != "" {
				h.expectEqual(name+" user agent", pe.UserAgent, tr.UserAgent)
			}
		}
	}

	if pe.Tags != nil {
		tags, err := docs.RevisionTags(ctx, latest)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: %v", name, err))
		} else if !slices.Equal(sorted(pe.Tags), sorted(tags)) {
			h.result.AddError(fmt.Sprintf("%s tags: expected %v, got %v", name, pe.Tags, tags))
		}
	}
}

func (h *Harness) expectEqual(what, want, got string) {
	if want != got {
		h.result.AddError(fmt.Sprintf("%s: expected %q, got %q", what, want, got))
	}
}

func (h *Harness) expectBool(what string, want *bool, got bool) {
	if want != nil && *want != got {
		h.result.AddError(fmt.Sprintf("%s: expected %t, got %t", what, *want, got))
	}
}

func sorted(tags []string) []string {
	out := slices.Clone(tags)
	slices.Sort(out)
	return out
}
