package consequence

import (
	"context"

	"github.com/roach88/modqueue/internal/wiki"
)

// ApproveMove applies one queued page move.
type ApproveMove struct {
	ModID         int64
	From          wiki.Title
	To            wiki.Title
	User          wiki.User
	Reason        string
	LeaveRedirect bool
}

// MoveOutcome is the Value of a successful ApproveMove.
type MoveOutcome struct {
	PageID     int64
	RevisionID int64
	LogID      int64
}

func (c ApproveMove) Kind() Kind { return KindApproveMove }

func (c ApproveMove) Run(ctx context.Context, env *Env) Result {
	wr, err := env.Docs.MoveDocument(ctx, wiki.MoveRequest{
		From:          c.From,
		To:            c.To,
		Reason:        c.Reason,
		User:          c.User,
		Origin:        env.Origin,
		LeaveRedirect: c.LeaveRedirect,
	})
	if err != nil {
		return Fatal(classify(c.ModID, "move page", err))
	}
	return OK(MoveOutcome{PageID: wr.PageID, RevisionID: wr.RevisionID, LogID: wr.IDs.LogID})
}
