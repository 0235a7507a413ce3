package wiki

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/testutil"
)

var (
	alice = User{ID: 1, Name: "Alice"}
	bob   = User{ID: 2, Name: "Bob"}
)

func newTestWiki(t *testing.T, opts ...Option) (*Store, *testutil.SteppingClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "wiki.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewSteppingClock(testutil.Epoch, time.Minute)
	return New(st, append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func edit(title Title, text string, user User) EditRequest {
	return EditRequest{Title: title, Text: text, User: user, Comment: "test", Origin: Origin{IP: "127.0.0.1"}}
}

func TestNewTitle(t *testing.T) {
	tests := []struct {
		in   string
		want Title
	}{
		{"Main Page", "Main_Page"},
		{"  main   page ", "Main_Page"},
		{"_x_", "X"},
		{"Ünïcode page", "Ünïcode_page"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NewTitle(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "   ", "a|b", "x[y]", "#frag"} {
		_, err := NewTitle(bad)
		assert.True(t, IsRejected(err), "title %q should be rejected", bad)
	}

	assert.Equal(t, "Main Page", MustTitle("Main_Page").Text())
}

func TestCreateAndUpdate(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()
	title := MustTitle("Page")

	created, err := w.CreateDocument(ctx, edit(title, "v1", alice))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.RevisionID)
	assert.Equal(t, int64(0), created.ParentID)

	latest, err := w.LatestVersion(ctx, title)
	require.NoError(t, err)
	assert.Equal(t, created.RevisionID, latest)

	updated, err := w.UpdateDocument(ctx, edit(title, "v2", bob), latest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.RevisionID)
	assert.Equal(t, int64(1), updated.ParentID)

	text, err := w.Content(ctx, title)
	require.NoError(t, err)
	assert.Equal(t, "v2", text)

	revs, err := w.Revisions(ctx, title)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, testutil.Epoch, revs[0].Timestamp)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), revs[1].Timestamp)
	assert.Equal(t, "Bob", revs[1].User.Name)

	rc, err := w.RecentChangeFor(ctx, updated.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, "edit", rc.Type)
	assert.Equal(t, int64(1), rc.LastOldID)
	assert.Equal(t, updated.IDs.RCID, rc.ID)
}

func TestLatestVersion_Missing(t *testing.T) {
	w, _ := newTestWiki(t)

	latest, err := w.LatestVersion(context.Background(), MustTitle("Nope"))
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestLatestTimestamp(t *testing.T) {
	w, clock := newTestWiki(t)
	ctx := context.Background()
	title := MustTitle("Clocked")

	ts, err := w.LatestTimestamp(ctx, title)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	want := clock.Peek()
	_, err = w.CreateDocument(ctx, edit(title, "x", alice))
	require.NoError(t, err)

	ts, err = w.LatestTimestamp(ctx, title)
	require.NoError(t, err)
	assert.True(t, ts.Equal(want), "got %s want %s", ts, want)
}

func TestUpdate_Preconditions(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()
	title := MustTitle("Page")

	_, err := w.UpdateDocument(ctx, edit(title, "x", bob), 0)
	assert.True(t, errors.Is(err, ErrNoSuchPage))

	_, err = w.CreateDocument(ctx, edit(title, "v1", alice))
	require.NoError(t, err)

	_, err = w.CreateDocument(ctx, edit(title, "again", alice))
	assert.True(t, errors.Is(err, ErrPageExists))

	_, err = w.UpdateDocument(ctx, edit(title, "v2", bob), 99)
	assert.True(t, errors.Is(err, ErrVersionMismatch))
	assert.True(t, IsPrecondition(err))
}

func TestUpdate_NullEdit(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()
	title := MustTitle("Page")

	created, err := w.CreateDocument(ctx, edit(title, "same", alice))
	require.NoError(t, err)

	res, err := w.UpdateDocument(ctx, edit(title, "same", bob), created.RevisionID)
	require.NoError(t, err)
	assert.True(t, res.NullEdit)
	assert.Equal(t, created.RevisionID, res.RevisionID)

	revs, err := w.Revisions(ctx, title)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestUpdate_MinorRequiresRight(t *testing.T) {
	rights := RightsFunc(func(u User, right string) bool {
		return u.Name == "Alice" && right == RightMinorEdit
	})
	w, _ := newTestWiki(t, WithRights(rights))
	ctx := context.Background()
	title := MustTitle("Page")

	created, err := w.CreateDocument(ctx, edit(title, "v1", alice))
	require.NoError(t, err)

	req := edit(title, "v2", bob)
	req.Flags.Minor = true
	r2, err := w.UpdateDocument(ctx, req, created.RevisionID)
	require.NoError(t, err)

	req = edit(title, "v3", alice)
	req.Flags.Minor = true
	r3, err := w.UpdateDocument(ctx, req, r2.RevisionID)
	require.NoError(t, err)

	rev2, err := w.Revision(ctx, r2.RevisionID)
	require.NoError(t, err)
	assert.False(t, rev2.Minor)

	rev3, err := w.Revision(ctx, r3.RevisionID)
	require.NoError(t, err)
	assert.True(t, rev3.Minor)
}

func TestCreate_ContentTooLarge(t *testing.T) {
	w, _ := newTestWiki(t, WithMaxContentBytes(8))

	_, err := w.CreateDocument(context.Background(), edit(MustTitle("Big"), strings.Repeat("x", 9), alice))
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestPreFinalize_MutatesRows(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()
	override := time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

	var seen *PhaseEvent
	w.OnPhase(PhasePreFinalize, func(_ context.Context, ev *PhaseEvent) error {
		seen = ev
		ev.Record.SetTimestamp(override)
		ev.Record.RecentChange.IP = "10.1.1.1"
		ev.Record.Tracking.IP = "10.1.1.1"
		ev.Record.Tracking.UserAgent = "Agent/2"
		return nil
	})

	res, err := w.CreateDocument(ctx, edit(MustTitle("Page"), "text", alice))
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, KindEdit, seen.Kind)
	assert.True(t, seen.PreviousTimestamp.IsZero(), "creation has no previous revision")

	rev, err := w.Revision(ctx, res.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, override, rev.Timestamp)

	rc, err := w.RecentChangeFor(ctx, res.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", rc.IP)
	assert.Equal(t, override, rc.Timestamp)

	tr, err := w.TrackingFor(ctx, res.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", tr.IP)
	assert.Equal(t, "0A010101", tr.IPHex)
	assert.Equal(t, "Agent/2", tr.UserAgent)
}

func TestPreFinalize_ErrorAbortsWrite(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()

	w.OnPhase(PhasePreFinalize, func(context.Context, *PhaseEvent) error {
		return errors.New("nope")
	})

	_, err := w.CreateDocument(ctx, edit(MustTitle("Page"), "text", alice))
	require.Error(t, err)
	assert.True(t, IsRejected(err))

	latest, err := w.LatestVersion(ctx, MustTitle("Page"))
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestPostFinalize_ReceivesIDs(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()

	var ids Identifiers
	var prevTS time.Time
	w.OnPhase(PhasePostFinalize, func(_ context.Context, ev *PhaseEvent) error {
		ids = ev.IDs
		prevTS = ev.PreviousTimestamp
		return errors.New("ignored")
	})

	first, err := w.CreateDocument(ctx, edit(MustTitle("Page"), "v1", alice))
	require.NoError(t, err)
	assert.Equal(t, first.IDs, ids)

	second, err := w.UpdateDocument(ctx, edit(MustTitle("Page"), "v2", bob), first.RevisionID)
	require.NoError(t, err, "post-finalize failures do not fail the write")
	assert.Equal(t, second.RevisionID, ids.RevID)
	assert.NotZero(t, ids.RCID)
	assert.Zero(t, ids.LogID)
	assert.Equal(t, testutil.Epoch, prevTS)
}

func TestMoveDocument(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()
	from, to := MustTitle("Old"), MustTitle("New")

	created, err := w.CreateDocument(ctx, edit(from, "body", alice))
	require.NoError(t, err)

	var events []PhaseEvent
	w.OnPhase(PhasePostFinalize, func(_ context.Context, ev *PhaseEvent) error {
		events = append(events, *ev)
		return nil
	})

	res, err := w.MoveDocument(ctx, MoveRequest{From: from, To: to, Reason: "rename", User: bob, LeaveRedirect: true})
	require.NoError(t, err)
	assert.Equal(t, created.PageID, res.PageID)
	assert.NotZero(t, res.IDs.LogID)

	require.Len(t, events, 1)
	assert.Equal(t, KindMove, events[0].Kind)
	assert.Equal(t, from, events[0].Title)

	text, err := w.Content(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, "body", text)

	redirect, err := w.Content(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, "#REDIRECT [[New]]", redirect)

	entry, err := w.LogEntry(ctx, res.IDs.LogID)
	require.NoError(t, err)
	assert.Equal(t, "move_redir", entry.Action)
	assert.Equal(t, "New", entry.Params)

	rc, err := w.RecentChangeFor(ctx, res.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, "log", rc.Type)
	assert.Equal(t, res.IDs.LogID, rc.LogID)
}

func TestMoveDocument_Preconditions(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()

	_, err := w.MoveDocument(ctx, MoveRequest{From: MustTitle("A"), To: MustTitle("B"), User: bob})
	assert.True(t, errors.Is(err, ErrNoSuchPage))

	_, err = w.CreateDocument(ctx, edit(MustTitle("A"), "a", alice))
	require.NoError(t, err)
	_, err = w.CreateDocument(ctx, edit(MustTitle("B"), "b", alice))
	require.NoError(t, err)

	_, err = w.MoveDocument(ctx, MoveRequest{From: MustTitle("A"), To: MustTitle("B"), User: bob})
	assert.True(t, errors.Is(err, ErrPageExists))

	_, err = w.MoveDocument(ctx, MoveRequest{From: MustTitle("A"), To: MustTitle("A"), User: bob})
	assert.True(t, IsRejected(err))
}

func TestAddTags_NotifiesObservers(t *testing.T) {
	w, _ := newTestWiki(t)
	ctx := context.Background()

	res, err := w.CreateDocument(ctx, edit(MustTitle("Page"), "v1", alice))
	require.NoError(t, err)
	target := TagTarget{RCID: res.IDs.RCID, RevID: res.RevisionID}

	var updates []TagsUpdate
	w.OnTagsUpdated(func(_ context.Context, u TagsUpdate) {
		updates = append(updates, u)
	})

	require.NoError(t, w.AddTags(ctx, target, []string{"t1", "t2"}))
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"t1", "t2"}, updates[0].Added)
	assert.NotNil(t, updates[0].Removed)
	assert.Empty(t, updates[0].Removed)

	// Re-adding an existing tag only reports the new one.
	require.NoError(t, w.AddTags(ctx, target, []string{"t2", "t3"}))
	require.Len(t, updates, 2)
	assert.Equal(t, []string{"t3"}, updates[1].Added)
	assert.Equal(t, []string{"t1", "t2"}, updates[1].Previous)

	tags, err := w.RevisionTags(ctx, res.RevisionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, tags)

	require.NoError(t, w.AddTags(ctx, target, nil))
	assert.Len(t, updates, 2)
}

func TestIPToHex(t *testing.T) {
	tests := map[string]string{
		"10.1.1.1":        "0A010101",
		"127.0.0.1":       "7F000001",
		"::ffff:10.0.0.1": "0A000001",
		"2001:db8::1":     "v6-20010DB8000000000000000000000001",
		"not-an-ip":       "",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, IPToHex(in), in)
	}
}
