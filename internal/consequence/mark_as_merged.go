package consequence

import "context"

// MarkAsMerged records the revision a queue row was applied as.
type MarkAsMerged struct {
	ModID int64
	RevID int64
}

func (c MarkAsMerged) Kind() Kind { return KindMarkAsMerged }

func (c MarkAsMerged) Run(ctx context.Context, env *Env) Result {
	if err := env.Pending.MarkMerged(ctx, c.ModID, c.RevID); err != nil {
		return Fatal(classify(c.ModID, "mark merged", err))
	}
	return OK(c.RevID)
}
