package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/modqueue/internal/moderation"
	"github.com/roach88/modqueue/internal/store"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <mod-id>",
		Short: "Show a queued change as a diff",
		Long: `Show a queued change as a unified diff against the revision it was based
on, and whether approving it now would conflict with later edits.

Example:
  modq show 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd, rootOpts, false)
			if err != nil {
				return err
			}
			defer rt.close()

			p, err := rt.stack.Approver.Preview(cmd.Context(), ids[0])
			if errors.Is(err, store.ErrPendingNotFound) {
				_ = rt.out.Error("NOT_FOUND", fmt.Sprintf("no queued change #%d", ids[0]), nil)
				return WrapExitError(ExitFailure, "change not found", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to preview change", err)
			}
			return rt.out.Success(previewView(p))
		},
	}
}

type previewView moderation.Preview

func (v previewView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "#%d %s of %s by %s\n", v.ModID, v.Kind, v.Title, v.Author)
	fmt.Fprintf(w, "base revision %d, latest revision %d\n", v.BaseRevID, v.LatestRevID)
	switch {
	case v.Conflict:
		fmt.Fprintln(w, "flagged: conflicted on a previous approval")
	case v.WouldConflict:
		fmt.Fprintln(w, "warning: approving now would conflict")
	}
	if v.Stats.Hunks > 0 {
		fmt.Fprintf(w, "%d hunks, +%d -%d\n", v.Stats.Hunks, v.Stats.Added, v.Stats.Removed)
	}
	fmt.Fprint(w, v.Diff)
}
