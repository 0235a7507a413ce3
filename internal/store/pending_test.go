package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePending(user, title string, at time.Time) PendingChange {
	return PendingChange{
		Timestamp: at,
		UserID:    0,
		UserName:  user,
		Kind:      "edit",
		Title:     title,
		Comment:   "fix typo",
		BaseRevID: 3,
		IP:        "10.1.1.1",
		XFF:       "10.2.2.2, 10.3.3.3",
		UserAgent: "TestAgent/1.0",
		Tags:      "t1\nt2",
		Text:      "new text\n",
	}
}

func TestPendingChange_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	in := samplePending("192.0.2.1", "Main_Page", at)
	in.Minor = true
	id, err := s.InsertPendingChange(ctx, in)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	got, err := s.ReadPendingChange(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.True(t, got.Timestamp.Equal(at))
	assert.Equal(t, "192.0.2.1", got.UserName)
	assert.Equal(t, "edit", got.Kind)
	assert.Equal(t, "Main_Page", got.Title)
	assert.Equal(t, int64(3), got.BaseRevID)
	assert.Equal(t, "10.2.2.2, 10.3.3.3", got.XFF)
	assert.Equal(t, "t1\nt2", got.Tags)
	assert.True(t, got.Minor)
	assert.False(t, got.Conflict)
	assert.False(t, got.Merged())
}

func TestReadPendingChange_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadPendingChange(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPendingNotFound))
}

func TestMarkConflictThenMerged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.InsertPendingChange(ctx, samplePending("Bob", "Page", time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.MarkConflict(ctx, id))
	got, err := s.ReadPendingChange(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Conflict)

	require.NoError(t, s.MarkMerged(ctx, id, 42))
	got, err = s.ReadPendingChange(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Conflict, "merge clears the conflict flag")
	assert.Equal(t, int64(42), got.MergedRevID)
}

func TestMarkMerged_MissingRow(t *testing.T) {
	s := createTestStore(t)

	err := s.MarkMerged(context.Background(), 7, 1)
	assert.True(t, errors.Is(err, ErrPendingNotFound))
}

func TestMarkRejected_SkipsMerged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.InsertPendingChange(ctx, samplePending("Bob", "Page", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.MarkMerged(ctx, id, 5))

	err = s.MarkRejected(ctx, id)
	assert.True(t, errors.Is(err, ErrPendingNotFound))
}

func TestPendingByAuthor_Ordering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order; listing is by queue time.
	late, err := s.InsertPendingChange(ctx, samplePending("Bob", "B", base.Add(2*time.Minute)))
	require.NoError(t, err)
	early, err := s.InsertPendingChange(ctx, samplePending("Bob", "A", base))
	require.NoError(t, err)
	_, err = s.InsertPendingChange(ctx, samplePending("Carol", "C", base))
	require.NoError(t, err)
	merged, err := s.InsertPendingChange(ctx, samplePending("Bob", "D", base.Add(time.Minute)))
	require.NoError(t, err)
	require.NoError(t, s.MarkMerged(ctx, merged, 9))

	list, err := s.PendingByAuthor(ctx, "Bob")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, early, list[0].ID)
	assert.Equal(t, late, list[1].ID)
}

func TestMarkConflict_SQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE moderation SET mod_conflict = 1 WHERE mod_id = \?`).
		WithArgs(int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewWithDB(db)
	require.NoError(t, s.MarkConflict(context.Background(), 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkMerged_SQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE moderation SET mod_merged_revid = \?, mod_conflict = 0 WHERE mod_id = \?`).
		WithArgs(int64(42), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewWithDB(db)
	require.NoError(t, s.MarkMerged(context.Background(), 7, 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConflict_DriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE moderation SET mod_conflict`).
		WillReturnError(errors.New("disk I/O error"))

	s := NewWithDB(db)
	err = s.MarkConflict(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark conflict")
	assert.False(t, errors.Is(err, ErrPendingNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadPendingChange_SQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{
		"mod_id", "mod_timestamp", "mod_user", "mod_user_text", "mod_type",
		"mod_title", "mod_page2_title", "mod_comment", "mod_minor", "mod_bot", "mod_new",
		"mod_last_oldid", "mod_ip", "mod_header_xff", "mod_header_ua", "mod_tags", "mod_text",
		"mod_stash_key", "mod_conflict", "mod_merged_revid", "mod_rejected",
	}
	mock.ExpectQuery(`SELECT .+ FROM moderation WHERE mod_id = \?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(5), "20240301123045", int64(0), "Bob", "move",
			"Old", "New", "rename", 0, 0, 0,
			int64(0), "10.1.1.1", "", "", "", "",
			"", 1, int64(0), 0,
		))

	s := NewWithDB(db)
	pc, err := s.ReadPendingChange(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "move", pc.Kind)
	assert.Equal(t, "New", pc.NewTitle)
	assert.True(t, pc.Conflict)
	assert.Equal(t, 2024, pc.Timestamp.Year())
	require.NoError(t, mock.ExpectationsWereMet())
}
