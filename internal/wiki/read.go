package wiki

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/modqueue/internal/store"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const revisionColumns = `rev_id, rev_page, rev_parent_id, rev_timestamp, rev_user,
	rev_user_text, rev_comment, rev_minor_edit, rev_sha1, rev_text`

// LatestVersion returns the latest revision id of title, or 0 if the page
// does not exist.
func (s *Store) LatestVersion(ctx context.Context, title Title) (int64, error) {
	var latest int64
	err := s.st.DB().QueryRowContext(ctx,
		`SELECT page_latest FROM page WHERE page_title = ?`, string(title)).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest version of %s: %w", title, err)
	}
	return latest, nil
}

// LatestTimestamp returns the timestamp of title's latest revision, or the
// zero time if the page does not exist.
func (s *Store) LatestTimestamp(ctx context.Context, title Title) (time.Time, error) {
	var ts string
	err := s.st.DB().QueryRowContext(ctx, `
		SELECT rev_timestamp FROM revision JOIN page ON rev_id = page_latest
		WHERE page_title = ?
	`, string(title)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest timestamp of %s: %w", title, err)
	}
	return store.ParseTimestamp(ts)
}

// ContentAt returns the text of revision revID.
func (s *Store) ContentAt(ctx context.Context, revID int64) (string, error) {
	r, err := s.Revision(ctx, revID)
	if err != nil {
		return "", err
	}
	return r.Text, nil
}

// Content returns the latest text of title.
func (s *Store) Content(ctx context.Context, title Title) (string, error) {
	latest, err := s.LatestVersion(ctx, title)
	if err != nil {
		return "", err
	}
	if latest == 0 {
		return "", fmt.Errorf("content of %s: %w", title, ErrNoSuchPage)
	}
	return s.ContentAt(ctx, latest)
}

// Revision loads one revision.
func (s *Store) Revision(ctx context.Context, revID int64) (RevisionRow, error) {
	return readRevision(ctx, s.st.DB(), revID)
}

// Revisions lists the revisions of title, oldest first.
func (s *Store) Revisions(ctx context.Context, title Title) ([]RevisionRow, error) {
	rows, err := s.st.DB().QueryContext(ctx, `
		SELECT `+revisionColumns+`
		FROM revision JOIN page ON rev_page = page_id
		WHERE page_title = ?
		ORDER BY rev_id ASC
	`, string(title))
	if err != nil {
		return nil, fmt.Errorf("revisions of %s: %w", title, err)
	}
	defer rows.Close()

	var out []RevisionRow
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return out, nil
}

// RecentChangeFor returns the recent-changes row of revision revID.
func (s *Store) RecentChangeFor(ctx context.Context, revID int64) (RecentChangeRow, error) {
	var (
		rc                RecentChangeRow
		ts, title         string
		bot, minor, isNew int
	)
	err := s.st.DB().QueryRowContext(ctx, `
		SELECT rc_id, rc_timestamp, rc_user, rc_user_text, rc_title, rc_type,
		       rc_this_oldid, rc_last_oldid, rc_logid, rc_bot, rc_minor, rc_new, rc_ip, rc_comment
		FROM recentchanges WHERE rc_this_oldid = ?
		ORDER BY rc_id DESC LIMIT 1
	`, revID).Scan(&rc.ID, &ts, &rc.User.ID, &rc.User.Name, &title, &rc.Type,
		&rc.ThisOldID, &rc.LastOldID, &rc.LogID, &bot, &minor, &isNew, &rc.IP, &rc.Comment)
	if errors.Is(err, sql.ErrNoRows) {
		return RecentChangeRow{}, fmt.Errorf("recent change for revision %d: %w", revID, ErrNoSuchRevision)
	}
	if err != nil {
		return RecentChangeRow{}, fmt.Errorf("recent change for revision %d: %w", revID, err)
	}
	rc.Title = Title(title)
	rc.Bot, rc.Minor, rc.New = bot != 0, minor != 0, isNew != 0
	if rc.Timestamp, err = store.ParseTimestamp(ts); err != nil {
		return RecentChangeRow{}, err
	}
	return rc, nil
}

// TrackingFor returns the client tracking row of revision revID.
func (s *Store) TrackingFor(ctx context.Context, revID int64) (TrackingRow, error) {
	var (
		t         TrackingRow
		ts, title string
	)
	err := s.st.DB().QueryRowContext(ctx, `
		SELECT cuc_id, cuc_timestamp, cuc_user, cuc_user_text, cuc_title, cuc_type,
		       cuc_this_oldid, cuc_logid, cuc_ip, cuc_ip_hex, cuc_xff, cuc_agent
		FROM cu_changes WHERE cuc_this_oldid = ?
		ORDER BY cuc_id DESC LIMIT 1
	`, revID).Scan(&t.ID, &ts, &t.User.ID, &t.User.Name, &title, &t.Type,
		&t.ThisOldID, &t.LogID, &t.IP, &t.IPHex, &t.XFF, &t.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackingRow{}, fmt.Errorf("tracking row for revision %d: %w", revID, ErrNoSuchRevision)
	}
	if err != nil {
		return TrackingRow{}, fmt.Errorf("tracking row for revision %d: %w", revID, err)
	}
	t.Title = Title(title)
	if t.Timestamp, err = store.ParseTimestamp(ts); err != nil {
		return TrackingRow{}, err
	}
	return t, nil
}

// LogEntry loads one audit-log row.
func (s *Store) LogEntry(ctx context.Context, logID int64) (LogRow, error) {
	var (
		l         LogRow
		ts, title string
	)
	err := s.st.DB().QueryRowContext(ctx, `
		SELECT log_id, log_type, log_action, log_timestamp, log_user, log_user_text,
		       log_title, log_page, log_comment, log_params
		FROM logging WHERE log_id = ?
	`, logID).Scan(&l.ID, &l.Type, &l.Action, &ts, &l.User.ID, &l.User.Name,
		&title, &l.PageID, &l.Comment, &l.Params)
	if errors.Is(err, sql.ErrNoRows) {
		return LogRow{}, fmt.Errorf("log entry %d: %w", logID, sql.ErrNoRows)
	}
	if err != nil {
		return LogRow{}, fmt.Errorf("log entry %d: %w", logID, err)
	}
	l.Title = Title(title)
	if l.Timestamp, err = store.ParseTimestamp(ts); err != nil {
		return LogRow{}, err
	}
	return l, nil
}

func readRevisionTx(ctx context.Context, tx *sql.Tx, revID int64) (RevisionRow, error) {
	return readRevision(ctx, tx, revID)
}

func readRevision(ctx context.Context, q queryer, revID int64) (RevisionRow, error) {
	row := q.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revision WHERE rev_id = ?`, revID)
	r, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RevisionRow{}, fmt.Errorf("revision %d: %w", revID, ErrNoSuchRevision)
	}
	if err != nil {
		return RevisionRow{}, fmt.Errorf("revision %d: %w", revID, err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(sc rowScanner) (RevisionRow, error) {
	var (
		r     RevisionRow
		ts    string
		minor int
	)
	if err := sc.Scan(&r.ID, &r.PageID, &r.ParentID, &ts, &r.User.ID, &r.User.Name,
		&r.Comment, &minor, &r.SHA1, &r.Text); err != nil {
		return RevisionRow{}, err
	}
	r.Minor = minor != 0
	t, err := store.ParseTimestamp(ts)
	if err != nil {
		return RevisionRow{}, err
	}
	r.Timestamp = t
	return r, nil
}
