package moderation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modqueue/internal/consequence"
	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/testutil"
	"github.com/roach88/modqueue/internal/wiki"
)

var (
	owner  = wiki.User{ID: 1, Name: "Owner"}
	author = wiki.User{ID: 7, Name: "Newcomer"}
	anon   = wiki.User{Name: "192.0.2.44"}
)

func newStack(t *testing.T, dryRun bool) *Stack {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "moderation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewSteppingClock(testutil.Epoch.Add(time.Hour), time.Minute)
	return NewStack(st, StackOptions{
		Clock:    clock.Now,
		BatchIDs: testutil.NewSequentialIDs("batch").Next,
		Origin:   wiki.Origin{IP: "127.0.0.1", UserAgent: "modq"},
		DryRun:   dryRun,
	})
}

func seed(t *testing.T, s *Stack, title, text string) int64 {
	t.Helper()
	res, err := s.Docs.CreateDocument(context.Background(), wiki.EditRequest{
		Title: wiki.MustTitle(title),
		Text:  text,
		User:  owner,
	})
	require.NoError(t, err)
	return res.RevisionID
}

func submit(t *testing.T, s *Stack, sub Submission) int64 {
	t.Helper()
	if sub.User == (wiki.User{}) {
		sub.User = author
	}
	if sub.At.IsZero() {
		sub.At = testutil.Epoch.Add(2 * time.Hour)
	}
	id, err := s.Submit(context.Background(), sub)
	require.NoError(t, err)
	return id
}

func TestApprove_AppliesEditWithSubmitterMetadata(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()
	base := seed(t, s, "Lake", "one\ntwo\nthree\n")
	queued := testutil.Epoch.Add(2 * time.Hour)

	modID := submit(t, s, Submission{
		Title:   "Lake",
		User:    anon,
		Origin:  wiki.Origin{IP: "192.0.2.44", XFF: "10.0.0.1", UserAgent: "Firefox/120"},
		Text:    "one\nTWO\nthree\n",
		Comment: "fix",
		Tags:    []string{"mobile edit", "visualeditor"},
		At:      queued,
	})

	res := s.Approver.Approve(ctx, modID)
	require.True(t, res.IsOK(), "%v", res.Err)
	out := res.Value.(consequence.EditOutcome)
	assert.Equal(t, base+1, out.RevisionID)

	text, err := s.Docs.Content(ctx, wiki.MustTitle("Lake"))
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\n", text)

	rev, err := s.Docs.Revision(ctx, out.RevisionID)
	require.NoError(t, err)
	assert.True(t, rev.Timestamp.Equal(queued), "revision keeps the submission time, got %s", rev.Timestamp)
	assert.Equal(t, anon.Name, rev.User.Name)

	tr, err := s.Docs.TrackingFor(ctx, out.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.44", tr.IP)
	assert.Equal(t, "10.0.0.1", tr.XFF)
	assert.Equal(t, "Firefox/120", tr.UserAgent)

	tags, err := s.Docs.RevisionTags(ctx, out.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"mobile edit", "visualeditor"}, tags)

	pc, err := s.Store.ReadPendingChange(ctx, modID)
	require.NoError(t, err)
	assert.True(t, pc.Merged())
	assert.Equal(t, out.RevisionID, pc.MergedRevID)
	assert.Zero(t, s.Hooks.Len(), "registry is cleared after the batch")
}

func TestApprove_CreatesPage(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()

	modID := submit(t, s, Submission{Title: "Fresh page", Text: "hello\n"})
	pc, err := s.Store.ReadPendingChange(ctx, modID)
	require.NoError(t, err)
	assert.True(t, pc.IsNew)
	assert.Zero(t, pc.BaseRevID)

	res := s.Approver.Approve(ctx, modID)
	require.True(t, res.IsOK(), "%v", res.Err)
	assert.True(t, res.Value.(consequence.EditOutcome).Created)
}

func TestApprove_UnknownAndDecidedRows(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()

	res := s.Approver.Approve(ctx, 999)
	assert.Equal(t, consequence.CodeNotFound, res.Code())

	modID := submit(t, s, Submission{Title: "Twice", Text: "x\n"})
	require.True(t, s.Approver.Approve(ctx, modID).IsOK())

	res = s.Approver.Approve(ctx, modID)
	assert.Equal(t, consequence.CodeAlreadyMerged, res.Code())

	rejected := submit(t, s, Submission{Title: "Spam", Text: "buy\n"})
	require.NoError(t, s.Store.MarkRejected(ctx, rejected))
	assert.Equal(t, consequence.CodeAlreadyMerged, s.Approver.Approve(ctx, rejected).Code())
}

func TestApprove_RefusesUnsupportedKind(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()
	base := seed(t, s, "Photo", "caption text\n")

	// Uploads are queued by other tools with the file in the stash.
	modID, err := s.Store.InsertPendingChange(ctx, store.PendingChange{
		Timestamp: testutil.Epoch.Add(2 * time.Hour),
		UserID:    author.ID,
		UserName:  author.Name,
		Kind:      "upload",
		Title:     "Photo",
		BaseRevID: base,
		StashKey:  "1a2b3c.jpg",
	})
	require.NoError(t, err)

	res := s.Approver.Approve(ctx, modID)
	assert.False(t, res.IsOK())
	assert.Equal(t, consequence.CodeStoreRejected, res.Code())
	assert.True(t, consequence.IsStoreRejected(res.Err))

	text, err := s.Docs.Content(ctx, wiki.MustTitle("Photo"))
	require.NoError(t, err)
	assert.Equal(t, "caption text\n", text)

	latest, err := s.Docs.LatestVersion(ctx, wiki.MustTitle("Photo"))
	require.NoError(t, err)
	assert.Equal(t, base, latest)

	pc, err := s.Store.ReadPendingChange(ctx, modID)
	require.NoError(t, err)
	assert.False(t, pc.Merged())
	assert.Equal(t, "1a2b3c.jpg", pc.StashKey)
	assert.Zero(t, s.Hooks.Len())
}

func TestSubmit_RejectsUnknownKind(t *testing.T) {
	s := newStack(t, false)

	_, err := s.Submit(context.Background(), Submission{
		Kind:  "upload",
		Title: "Photo",
		User:  author,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"upload"`)

	pending, err := s.Store.PendingByAuthor(context.Background(), author.Name)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApproveBatch_ContinuesPastFailures(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()

	first := submit(t, s, Submission{Title: "Alpha", Text: "a\n"})
	second := submit(t, s, Submission{Title: "Beta", Text: "b\n"})

	report := s.Approver.ApproveBatch(ctx, []int64{first, 404, second})
	assert.Equal(t, "batch-1", report.BatchID)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, consequence.CodeNotFound, report.Outcomes[1].Result.Code())
	assert.Zero(t, s.Hooks.Len())
}

func TestApproveAll_MergesThenConflicts(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()
	seed(t, s, "River", "one\ntwo\nthree\nfour\nfive\n")

	top := submit(t, s, Submission{Title: "River", Text: "ONE\ntwo\nthree\nfour\nfive\n", At: testutil.Epoch.Add(2 * time.Hour)})
	bottom := submit(t, s, Submission{Title: "River", Text: "one\ntwo\nthree\nfour\nFIVE\n", At: testutil.Epoch.Add(3 * time.Hour)})
	clash := submit(t, s, Submission{Title: "River", Text: "uno\ntwo\nthree\nfour\nfive\n", At: testutil.Epoch.Add(4 * time.Hour)})

	report, err := s.Approver.ApproveAll(ctx, author.Name)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []int64{top, bottom, clash},
		[]int64{report.Outcomes[0].ModID, report.Outcomes[1].ModID, report.Outcomes[2].ModID})

	assert.True(t, report.Outcomes[0].Result.IsOK())
	require.True(t, report.Outcomes[1].Result.IsOK(), "%v", report.Outcomes[1].Result.Err)
	assert.True(t, report.Outcomes[1].Result.Value.(consequence.EditOutcome).Merged)
	assert.Equal(t, consequence.CodeEditConflict, report.Outcomes[2].Result.Code())

	text, err := s.Docs.Content(ctx, wiki.MustTitle("River"))
	require.NoError(t, err)
	assert.Equal(t, "ONE\ntwo\nthree\nfour\nFIVE\n", text)

	pc, err := s.Store.ReadPendingChange(ctx, clash)
	require.NoError(t, err)
	assert.True(t, pc.Conflict)
	assert.False(t, pc.Merged())

	again, err := s.Approver.ApproveAll(ctx, author.Name)
	require.NoError(t, err)
	assert.Len(t, again.Outcomes, 1, "the conflicted row stays open")
}

func TestApproveAll_NothingPending(t *testing.T) {
	s := newStack(t, false)
	report, err := s.Approver.ApproveAll(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.NotEmpty(t, report.BatchID)
}

func TestApprove_Move(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()
	seed(t, s, "Old name", "content\n")

	modID := submit(t, s, Submission{
		Kind:     wiki.KindMove,
		Title:    "Old name",
		NewTitle: "New name",
		Comment:  "better name",
		Tags:     []string{"move-tag"},
	})

	res := s.Approver.Approve(ctx, modID)
	require.True(t, res.IsOK(), "%v", res.Err)
	out := res.Value.(consequence.MoveOutcome)

	text, err := s.Docs.Content(ctx, wiki.MustTitle("New name"))
	require.NoError(t, err)
	assert.Equal(t, "content\n", text)

	redirect, err := s.Docs.Content(ctx, wiki.MustTitle("Old name"))
	require.NoError(t, err)
	assert.Contains(t, redirect, "#REDIRECT [[New name]]")

	entry, err := s.Docs.LogEntry(ctx, out.LogID)
	require.NoError(t, err)
	assert.Equal(t, author.Name, entry.User.Name)

	pc, err := s.Store.ReadPendingChange(ctx, modID)
	require.NoError(t, err)
	assert.Equal(t, out.RevisionID, pc.MergedRevID)
}

func TestPreview(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()
	base := seed(t, s, "Hill", "one\ntwo\nthree\n")

	modID := submit(t, s, Submission{Title: "Hill", Text: "one\nTWO\nthree\n"})

	p, err := s.Approver.Preview(ctx, modID)
	require.NoError(t, err)
	assert.Equal(t, base, p.BaseRevID)
	assert.Equal(t, base, p.LatestRevID)
	assert.Contains(t, p.Diff, "-two\n")
	assert.Contains(t, p.Diff, "+TWO\n")
	assert.Equal(t, 1, p.Stats.Hunks)
	assert.Equal(t, 1, p.Stats.Added)
	assert.Equal(t, 1, p.Stats.Removed)
	assert.False(t, p.WouldConflict)

	_, err = s.Docs.UpdateDocument(ctx, wiki.EditRequest{
		Title: wiki.MustTitle("Hill"),
		Text:  "one\n2\nthree\n",
		User:  owner,
	}, base)
	require.NoError(t, err)

	p, err = s.Approver.Preview(ctx, modID)
	require.NoError(t, err)
	assert.Equal(t, base+1, p.LatestRevID)
	assert.True(t, p.WouldConflict)

	_, err = s.Approver.Preview(ctx, 12345)
	assert.ErrorIs(t, err, store.ErrPendingNotFound)
}

func TestDryRun_RecordsConsequences(t *testing.T) {
	s := newStack(t, true)
	ctx := context.Background()
	base := seed(t, s, "Pond", "old\n")
	modID := submit(t, s, Submission{Title: "Pond", Text: "new\n"})

	res := s.Approver.Approve(ctx, modID)
	require.True(t, res.IsOK())

	mock := s.Manager.(*consequence.MockManager)
	recorded := mock.Consequences()
	require.Len(t, recorded, 3)
	assert.Equal(t, consequence.KindInstallApproveHook, recorded[0].Kind())
	assert.Equal(t, consequence.KindApproveEdit, recorded[1].Kind())
	assert.Equal(t, consequence.KindMarkAsMerged, recorded[2].Kind())

	edit := recorded[1].(consequence.ApproveEdit)
	assert.Equal(t, base, edit.BaseRevID)
	assert.Equal(t, "new\n", edit.NewText)

	latest, err := s.Docs.LatestVersion(ctx, wiki.MustTitle("Pond"))
	require.NoError(t, err)
	assert.Equal(t, base, latest, "dry run leaves the page alone")

	pc, err := s.Store.ReadPendingChange(ctx, modID)
	require.NoError(t, err)
	assert.False(t, pc.Merged())
}

func TestApprove_StopsWhenEditFails(t *testing.T) {
	s := newStack(t, true)
	ctx := context.Background()
	modID := submit(t, s, Submission{Title: "Pond", Text: "new\n"})

	mock := s.Manager.(*consequence.MockManager)
	mock.MockResult(consequence.KindApproveEdit, consequence.Fatal(&consequence.Failure{
		Code:  consequence.CodePreconditionFailed,
		ModID: modID,
	}))

	res := s.Approver.Approve(ctx, modID)
	assert.Equal(t, consequence.CodePreconditionFailed, res.Code())
	assert.Len(t, mock.Consequences(), 2, "no MarkAsMerged after a failed edit")
}
