package consequence

import (
	"context"

	"github.com/roach88/modqueue/internal/wiki"
)

// ApproveEdit applies one queued edit to its page.
//
// BaseRevID is the page's latest revision when the edit was queued, 0 if
// the page did not exist. If the page moved on since then, the edit is
// three-way merged against the current text; an unmergeable edit flags the
// queue row and fails with CodeEditConflict.
type ApproveEdit struct {
	ModID     int64
	Title     wiki.Title
	User      wiki.User
	NewText   string
	Comment   string
	BaseRevID int64
	Minor     bool
	Bot       bool
}

// EditOutcome is the Value of a successful ApproveEdit.
type EditOutcome struct {
	PageID     int64
	RevisionID int64
	Created    bool
	Merged     bool
	NullEdit   bool
}

func (c ApproveEdit) Kind() Kind { return KindApproveEdit }

func (c ApproveEdit) Run(ctx context.Context, env *Env) Result {
	req := wiki.EditRequest{
		Title:   c.Title,
		Text:    c.NewText,
		Comment: c.Comment,
		User:    c.User,
		Origin:  env.Origin,
		Flags: wiki.EditFlags{
			Minor: c.Minor,
			Bot:   c.Bot && env.allowed(c.User, wiki.RightBot),
		},
	}

	latest, err := env.Docs.LatestVersion(ctx, c.Title)
	if err != nil {
		return Fatal(classify(c.ModID, "read latest version", err))
	}

	if latest == 0 {
		wr, err := env.Docs.CreateDocument(ctx, req)
		if err != nil {
			return Fatal(classify(c.ModID, "create page", err))
		}
		return OK(outcome(wr, true, false))
	}

	if latest == c.BaseRevID {
		wr, err := env.Docs.UpdateDocument(ctx, req, latest)
		if err != nil {
			return Fatal(classify(c.ModID, "update page", err))
		}
		return OK(outcome(wr, false, false))
	}

	var base string
	if c.BaseRevID != 0 {
		if base, err = env.Docs.ContentAt(ctx, c.BaseRevID); err != nil {
			return Fatal(classify(c.ModID, "read base revision", err))
		}
	}
	current, err := env.Docs.ContentAt(ctx, latest)
	if err != nil {
		return Fatal(classify(c.ModID, "read latest revision", err))
	}

	merged, ok := env.Docs.Merge3(base, c.NewText, current)
	if !ok {
		if err := env.Pending.MarkConflict(ctx, c.ModID); err != nil {
			return Fatal(classify(c.ModID, "flag conflict", err))
		}
		env.logger().Info("edit conflict",
			"mod_id", c.ModID,
			"title", c.Title,
			"base_rev", c.BaseRevID,
			"latest_rev", latest)
		return Fatal(&Failure{
			Code:    CodeEditConflict,
			Message: "queued edit conflicts with the current page",
			ModID:   c.ModID,
		})
	}

	req.Text = merged
	wr, err := env.Docs.UpdateDocument(ctx, req, latest)
	if err != nil {
		return Fatal(classify(c.ModID, "write merged page", err))
	}
	return OK(outcome(wr, false, true))
}

func outcome(wr wiki.WriteResult, created, merged bool) EditOutcome {
	return EditOutcome{
		PageID:     wr.PageID,
		RevisionID: wr.RevisionID,
		Created:    created,
		Merged:     merged,
		NullEdit:   wr.NullEdit,
	}
}
