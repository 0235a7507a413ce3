package wiki

import (
	"context"
	"fmt"

	"github.com/roach88/modqueue/internal/store"
)

// MoveDocument renames req.From to req.To.
//
// The move adds a null revision (same text) to the moved page, an audit-log
// entry, a recent-changes row of type "log" and a tracking row. With
// LeaveRedirect a new page at the old title points to the new one.
func (s *Store) MoveDocument(ctx context.Context, req MoveRequest) (WriteResult, error) {
	const op = "move document"
	if req.From == "" || req.To == "" {
		return WriteResult{}, fmt.Errorf("%s: %w", op, &RejectedError{Reason: "empty title"})
	}
	if req.From == req.To {
		return WriteResult{}, fmt.Errorf("%s: %w", op, &RejectedError{Reason: "source and destination are the same"})
	}

	tx, err := s.st.BeginTx(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	page, found, err := readPageTx(ctx, tx, req.From)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.From, ErrNoSuchPage)
	}
	if _, exists, err := readPageTx(ctx, tx, req.To); err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	} else if exists {
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.To, ErrPageExists)
	}
	prev, err := readRevisionTx(ctx, tx, page.Latest)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock()
	comment := fmt.Sprintf("moved [[%s]] to [[%s]]", req.From.Text(), req.To.Text())
	if req.Reason != "" {
		comment += ": " + req.Reason
	}
	rec := &Record{
		Revision: &RevisionRow{
			PageID:    page.ID,
			ParentID:  page.Latest,
			Timestamp: now,
			User:      req.User,
			Comment:   comment,
			Minor:     true,
			Text:      prev.Text,
			SHA1:      prev.SHA1,
		},
		Log: &LogRow{
			Type:      "move",
			Action:    "move",
			Timestamp: now,
			User:      req.User,
			Title:     req.From,
			PageID:    page.ID,
			Comment:   req.Reason,
			Params:    string(req.To),
		},
		RecentChange: &RecentChangeRow{
			Timestamp: now,
			User:      req.User,
			Title:     req.From,
			Type:      "log",
			LastOldID: page.Latest,
			IP:        req.Origin.IP,
			Comment:   req.Reason,
		},
		Tracking: &TrackingRow{
			Timestamp: now,
			User:      req.User,
			Title:     req.From,
			Type:      "log",
			IP:        req.Origin.IP,
			XFF:       req.Origin.XFF,
			UserAgent: req.Origin.UserAgent,
		},
	}
	if req.LeaveRedirect {
		text := fmt.Sprintf("#REDIRECT [[%s]]", req.To.Text())
		rec.Log.Action = "move_redir"
		rec.Redirect = &RevisionRow{
			Timestamp: now,
			User:      req.User,
			Comment:   comment,
			Text:      text,
			SHA1:      sha1Hex(text),
		}
	}

	ev := &PhaseEvent{
		Title:             req.From,
		User:              req.User,
		Kind:              KindMove,
		PreviousTimestamp: prev.Timestamp,
		Record:            rec,
	}
	if err := s.runPre(ctx, ev); err != nil {
		return WriteResult{}, fmt.Errorf("%s %s: %w", op, req.From, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE page SET page_title = ? WHERE page_id = ?`, string(req.To), page.ID); err != nil {
		return WriteResult{}, fmt.Errorf("%s: rename page: %w", op, err)
	}
	revID, err := insertRevisionTx(ctx, tx, rec.Revision)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := setLatestTx(ctx, tx, page.ID, revID, rec.Revision.Timestamp, true); err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	logID, err := insertLogTx(ctx, tx, rec.Log)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	rec.RecentChange.ThisOldID = revID
	rec.RecentChange.LogID = logID
	rcID, err := insertRecentChangeTx(ctx, tx, rec.RecentChange)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	rec.Tracking.ThisOldID = revID
	rec.Tracking.LogID = logID
	if _, err := insertTrackingTx(ctx, tx, rec.Tracking); err != nil {
		return WriteResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if rec.Redirect != nil {
		redirPage, err := insertPageTx(ctx, tx, req.From, rec.Redirect.Timestamp)
		if err != nil {
			return WriteResult{}, fmt.Errorf("%s: redirect: %w", op, err)
		}
		rec.Redirect.PageID = redirPage
		redirRev, err := insertRevisionTx(ctx, tx, rec.Redirect)
		if err != nil {
			return WriteResult{}, fmt.Errorf("%s: redirect: %w", op, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE page SET page_latest = ?, page_is_redirect = 1 WHERE page_id = ?
		`, redirRev, redirPage); err != nil {
			return WriteResult{}, fmt.Errorf("%s: redirect: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("%s: commit: %w", op, err)
	}

	ids := Identifiers{RevID: revID, LogID: logID, RCID: rcID}
	ev.IDs = ids
	s.runPost(ctx, ev)

	s.logger.Debug("page moved",
		"from", req.From,
		"to", req.To,
		"rev_id", revID,
		"log_id", logID,
		"at", store.FormatTimestamp(rec.Revision.Timestamp))

	return WriteResult{PageID: page.ID, RevisionID: revID, ParentID: page.Latest, IDs: ids}, nil
}
