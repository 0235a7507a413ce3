package wiki

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/modqueue/internal/store"
)

type pageRow struct {
	ID     int64
	Latest int64
}

// CreateDocument creates a page with req.Text as its first revision.
func (s *Store) CreateDocument(ctx context.Context, req EditRequest) (WriteResult, error) {
	return s.writeEdit(ctx, req, false, 0)
}

// UpdateDocument adds a revision to an existing page if its latest
// revision is still expectedLatest. Saving unchanged text is a null edit:
// nothing is written and the current latest revision is returned.
func (s *Store) UpdateDocument(ctx context.Context, req EditRequest, expectedLatest int64) (WriteResult, error) {
	return s.writeEdit(ctx, req, true, expectedLatest)
}

func (s *Store) validateText(text string) error {
	if s.maxContent > 0 && len(text) > s.maxContent {
		return &RejectedError{Reason: fmt.Sprintf("content is %d bytes, limit is %d", len(text), s.maxContent)}
	}
	return nil
}

func (s *Store) writeEdit(ctx context.Context, req EditRequest, update bool, expected int64) (WriteResult, error) {
	op := "create document"
	if update {
		op = "update document"
	}
	if req.Title == "" {
		return WriteResult{}, fmt.Errorf("%s: %w", op, &RejectedError{Reason: "empty title"})
	}
	if err := s.validateText(req.Text); err != nil {
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.Title, err)
	}

	tx, err := s.st.BeginTx(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	page, found, err := readPageTx(ctx, tx, req.Title)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case !update && found:
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.Title, ErrPageExists)
	case update && !found:
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.Title, ErrNoSuchPage)
	case update && page.Latest != expected:
		return WriteResult{}, fmt.Errorf("%s %s: latest is %d, expected %d: %w",
			op, req.Title, page.Latest, expected, ErrVersionMismatch)
	}

	var prevTS time.Time
	if found {
		prev, err := readRevisionTx(ctx, tx, page.Latest)
		if err != nil {
			return WriteResult{}, fmt.Errorf("%s: %w", op, err)
		}
		if prev.Text == req.Text {
			return WriteResult{PageID: page.ID, RevisionID: page.Latest, ParentID: prev.ParentID, NullEdit: true}, nil
		}
		prevTS = prev.Timestamp
	}

	now := s.clock()
	minor := found && req.Flags.Minor && s.minorAllowed(req.User)
	rcType := "edit"
	if !found {
		rcType = "new"
	}
	rec := &Record{
		Revision: &RevisionRow{
			PageID:    page.ID,
			ParentID:  page.Latest,
			Timestamp: now,
			User:      req.User,
			Comment:   req.Comment,
			Minor:     minor,
			Text:      req.Text,
			SHA1:      sha1Hex(req.Text),
		},
		RecentChange: &RecentChangeRow{
			Timestamp: now,
			User:      req.User,
			Title:     req.Title,
			Type:      rcType,
			LastOldID: page.Latest,
			Bot:       req.Flags.Bot,
			Minor:     minor,
			New:       !found,
			IP:        req.Origin.IP,
			Comment:   req.Comment,
		},
		Tracking: &TrackingRow{
			Timestamp: now,
			User:      req.User,
			Title:     req.Title,
			Type:      rcType,
			IP:        req.Origin.IP,
			XFF:       req.Origin.XFF,
			UserAgent: req.Origin.UserAgent,
		},
	}
	ev := &PhaseEvent{
		Title:             req.Title,
		User:              req.User,
		Kind:              KindEdit,
		PreviousTimestamp: prevTS,
		Record:            rec,
	}
	if err := s.runPre(ctx, ev); err != nil {
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.Title, err)
	}

	if !found {
		page.ID, err = insertPageTx(ctx, tx, req.Title, rec.Revision.Timestamp)
		if err != nil {
			return WriteResult{}, fmt.Errorf("%s: %w", op, err)
		}
		rec.Revision.PageID = page.ID
	}
	revID, err := insertRevisionTx(ctx, tx, rec.Revision)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := setLatestTx(ctx, tx, page.ID, revID, rec.Revision.Timestamp, found); err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	rec.RecentChange.ThisOldID = revID
	rcID, err := insertRecentChangeTx(ctx, tx, rec.RecentChange)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	rec.Tracking.ThisOldID = revID
	if _, err := insertTrackingTx(ctx, tx, rec.Tracking); err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("%s: commit: %w", op, err)
	}

	ids := Identifiers{RevID: revID, RCID: rcID}
	ev.IDs = ids
	s.runPost(ctx, ev)

	return WriteResult{PageID: page.ID, RevisionID: revID, ParentID: page.Latest, IDs: ids}, nil
}

func readPageTx(ctx context.Context, tx *sql.Tx, title Title) (pageRow, bool, error) {
	var p pageRow
	err := tx.QueryRowContext(ctx,
		`SELECT page_id, page_latest FROM page WHERE page_title = ?`, string(title),
	).Scan(&p.ID, &p.Latest)
	if errors.Is(err, sql.ErrNoRows) {
		return pageRow{}, false, nil
	}
	if err != nil {
		return pageRow{}, false, fmt.Errorf("read page %s: %w", title, err)
	}
	return p, true, nil
}

func insertPageTx(ctx context.Context, tx *sql.Tx, title Title, touched time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO page (page_title, page_touched) VALUES (?, ?)`,
		string(title), store.FormatTimestamp(touched))
	if err != nil {
		return 0, fmt.Errorf("insert page %s: %w", title, err)
	}
	return res.LastInsertId()
}

func setLatestTx(ctx context.Context, tx *sql.Tx, pageID, revID int64, touched time.Time, existed bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE page SET page_latest = ?, page_touched = ?, page_is_new = ?
		WHERE page_id = ?
	`, revID, store.FormatTimestamp(touched), boolInt(!existed), pageID)
	if err != nil {
		return fmt.Errorf("update page %d: %w", pageID, err)
	}
	return nil
}

func insertRevisionTx(ctx context.Context, tx *sql.Tx, r *RevisionRow) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO revision
		(rev_page, rev_parent_id, rev_timestamp, rev_user, rev_user_text,
		 rev_comment, rev_minor_edit, rev_len, rev_sha1, rev_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.PageID, r.ParentID, store.FormatTimestamp(r.Timestamp), r.User.ID, r.User.Name,
		r.Comment, boolInt(r.Minor), len(r.Text), r.SHA1, r.Text,
	)
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	r.ID = id
	return id, nil
}

func insertRecentChangeTx(ctx context.Context, tx *sql.Tx, rc *RecentChangeRow) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO recentchanges
		(rc_timestamp, rc_user, rc_user_text, rc_title, rc_type, rc_this_oldid,
		 rc_last_oldid, rc_logid, rc_bot, rc_minor, rc_new, rc_ip, rc_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		store.FormatTimestamp(rc.Timestamp), rc.User.ID, rc.User.Name, string(rc.Title), rc.Type,
		rc.ThisOldID, rc.LastOldID, rc.LogID, boolInt(rc.Bot), boolInt(rc.Minor), boolInt(rc.New),
		rc.IP, rc.Comment,
	)
	if err != nil {
		return 0, fmt.Errorf("insert recent change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert recent change: %w", err)
	}
	rc.ID = id
	return id, nil
}

func insertTrackingTx(ctx context.Context, tx *sql.Tx, t *TrackingRow) (int64, error) {
	t.IPHex = IPToHex(t.IP)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cu_changes
		(cuc_timestamp, cuc_user, cuc_user_text, cuc_title, cuc_type, cuc_this_oldid,
		 cuc_logid, cuc_ip, cuc_ip_hex, cuc_xff, cuc_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		store.FormatTimestamp(t.Timestamp), t.User.ID, t.User.Name, string(t.Title), t.Type,
		t.ThisOldID, t.LogID, t.IP, t.IPHex, t.XFF, t.UserAgent,
	)
	if err != nil {
		return 0, fmt.Errorf("insert tracking row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert tracking row: %w", err)
	}
	t.ID = id
	return id, nil
}

func insertLogTx(ctx context.Context, tx *sql.Tx, l *LogRow) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO logging
		(log_type, log_action, log_timestamp, log_user, log_user_text,
		 log_title, log_page, log_comment, log_params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.Type, l.Action, store.FormatTimestamp(l.Timestamp), l.User.ID, l.User.Name,
		string(l.Title), l.PageID, l.Comment, l.Params,
	)
	if err != nil {
		return 0, fmt.Errorf("insert log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert log entry: %w", err)
	}
	l.ID = id
	return id, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
