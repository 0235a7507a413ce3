package wiki

import (
	"context"
	"fmt"
	"slices"
)

// AddTags attaches tags to the rows of one change and notifies tag
// observers. Tags already present are not re-added; observers see only
// the newly attached ones, with an empty Removed list.
func (s *Store) AddTags(ctx context.Context, target TagTarget, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	prev, err := s.Tags(ctx, target)
	if err != nil {
		return err
	}

	tx, err := s.st.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("add tags: begin: %w", err)
	}
	defer tx.Rollback()

	added := make([]string, 0, len(tags))
	for _, tag := range tags {
		if slices.Contains(prev, tag) || slices.Contains(added, tag) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO change_tag (ct_rc_id, ct_rev_id, ct_log_id, ct_tag)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, target.RCID, target.RevID, target.LogID, tag); err != nil {
			return fmt.Errorf("add tag %q: %w", tag, err)
		}
		added = append(added, tag)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add tags: commit: %w", err)
	}
	if len(added) == 0 {
		return nil
	}

	s.mu.RLock()
	observers := append([]TagObserver(nil), s.observers...)
	s.mu.RUnlock()

	update := TagsUpdate{Target: target, Added: added, Removed: []string{}, Previous: prev}
	for _, obs := range observers {
		obs(ctx, update)
	}
	return nil
}

// Tags lists the tags attached to target, in insertion order.
func (s *Store) Tags(ctx context.Context, target TagTarget) ([]string, error) {
	rows, err := s.st.DB().QueryContext(ctx, `
		SELECT ct_tag FROM change_tag
		WHERE ct_rc_id = ? AND ct_rev_id = ? AND ct_log_id = ?
		ORDER BY ct_id ASC
	`, target.RCID, target.RevID, target.LogID)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

// RevisionTags lists the tags attached to any change row of revision revID.
func (s *Store) RevisionTags(ctx context.Context, revID int64) ([]string, error) {
	rows, err := s.st.DB().QueryContext(ctx,
		`SELECT ct_tag FROM change_tag WHERE ct_rev_id = ? ORDER BY ct_id ASC`, revID)
	if err != nil {
		return nil, fmt.Errorf("read revision tags: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}
