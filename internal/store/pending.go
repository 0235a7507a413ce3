package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPendingNotFound is returned when a queue row does not exist.
var ErrPendingNotFound = errors.New("pending change not found")

// PendingChange is one queued change awaiting a moderator decision.
//
// Kind is "edit" or "move". For moves Title is the source and NewTitle the
// destination. BaseRevID is the latest revision of Title when the change
// was queued, or 0 when the page did not exist.
type PendingChange struct {
	ID          int64
	Timestamp   time.Time
	UserID      int64
	UserName    string
	Kind        string
	Title       string
	NewTitle    string
	Comment     string
	Minor       bool
	Bot         bool
	IsNew       bool
	BaseRevID   int64
	IP          string
	XFF         string
	UserAgent   string
	Tags        string
	Text        string
	StashKey    string
	Conflict    bool
	MergedRevID int64
	Rejected    bool
}

// Merged reports whether the change was already applied.
func (p PendingChange) Merged() bool {
	return p.MergedRevID != 0
}

const pendingColumns = `mod_id, mod_timestamp, mod_user, mod_user_text, mod_type,
	mod_title, mod_page2_title, mod_comment, mod_minor, mod_bot, mod_new,
	mod_last_oldid, mod_ip, mod_header_xff, mod_header_ua, mod_tags, mod_text,
	mod_stash_key, mod_conflict, mod_merged_revid, mod_rejected`

// InsertPendingChange queues a change and returns its id.
// The ID, Conflict, MergedRevID and Rejected fields are ignored.
func (s *Store) InsertPendingChange(ctx context.Context, pc PendingChange) (int64, error) {
	kind := pc.Kind
	if kind == "" {
		kind = "edit"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation
		(mod_timestamp, mod_user, mod_user_text, mod_type, mod_title, mod_page2_title,
		 mod_comment, mod_minor, mod_bot, mod_new, mod_last_oldid, mod_ip,
		 mod_header_xff, mod_header_ua, mod_tags, mod_text, mod_stash_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		FormatTimestamp(pc.Timestamp),
		pc.UserID,
		pc.UserName,
		kind,
		pc.Title,
		pc.NewTitle,
		pc.Comment,
		boolToInt(pc.Minor),
		boolToInt(pc.Bot),
		boolToInt(pc.IsNew),
		pc.BaseRevID,
		pc.IP,
		pc.XFF,
		pc.UserAgent,
		pc.Tags,
		pc.Text,
		pc.StashKey,
	)
	if err != nil {
		return 0, fmt.Errorf("insert pending change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert pending change: %w", err)
	}
	return id, nil
}

// ReadPendingChange loads one queue row.
// Returns ErrPendingNotFound if the row does not exist.
func (s *Store) ReadPendingChange(ctx context.Context, id int64) (PendingChange, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM moderation WHERE mod_id = ?`, id)
	pc, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingChange{}, fmt.Errorf("read pending change %d: %w", id, ErrPendingNotFound)
	}
	if err != nil {
		return PendingChange{}, fmt.Errorf("read pending change %d: %w", id, err)
	}
	return pc, nil
}

// PendingByAuthor lists the author's changes that are neither merged nor
// rejected, oldest first.
func (s *Store) PendingByAuthor(ctx context.Context, userName string) ([]PendingChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM moderation
		WHERE mod_user_text = ? AND mod_merged_revid = 0 AND mod_rejected = 0
		ORDER BY mod_timestamp ASC, mod_id ASC
	`, userName)
	if err != nil {
		return nil, fmt.Errorf("query pending by author: %w", err)
	}
	defer rows.Close()

	var out []PendingChange
	for rows.Next() {
		pc, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending change: %w", err)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending changes: %w", err)
	}
	return out, nil
}

// MarkConflict flags a queue row whose approval hit an edit conflict.
func (s *Store) MarkConflict(ctx context.Context, id int64) error {
	return s.updatePending(ctx, "mark conflict",
		`UPDATE moderation SET mod_conflict = 1 WHERE mod_id = ?`, id)
}

// MarkMerged records the revision a queue row was applied as and clears
// its conflict flag.
func (s *Store) MarkMerged(ctx context.Context, id, revID int64) error {
	return s.updatePending(ctx, "mark merged",
		`UPDATE moderation SET mod_merged_revid = ?, mod_conflict = 0 WHERE mod_id = ?`, revID, id)
}

// MarkRejected records a moderator rejection.
func (s *Store) MarkRejected(ctx context.Context, id int64) error {
	return s.updatePending(ctx, "mark rejected",
		`UPDATE moderation SET mod_rejected = 1 WHERE mod_id = ? AND mod_merged_revid = 0`, id)
}

func (s *Store) updatePending(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrPendingNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(r rowScanner) (PendingChange, error) {
	var (
		pc                                PendingChange
		ts                                string
		minor, bot, isNew, conflict, rejd int
	)
	err := r.Scan(
		&pc.ID, &ts, &pc.UserID, &pc.UserName, &pc.Kind,
		&pc.Title, &pc.NewTitle, &pc.Comment, &minor, &bot, &isNew,
		&pc.BaseRevID, &pc.IP, &pc.XFF, &pc.UserAgent, &pc.Tags, &pc.Text,
		&pc.StashKey, &conflict, &pc.MergedRevID, &rejd,
	)
	if err != nil {
		return PendingChange{}, err
	}
	if pc.Timestamp, err = ParseTimestamp(ts); err != nil {
		return PendingChange{}, err
	}
	pc.Minor = minor != 0
	pc.Bot = bot != 0
	pc.IsNew = isNew != 0
	pc.Conflict = conflict != 0
	pc.Rejected = rejd != 0
	return pc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
