package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/modqueue/internal/store"
)

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <mod-id>...",
		Short: "Reject queued changes",
		Long: `Reject queued changes. Rejected changes are never applied and drop out
of approveall.

Example:
  modq reject 12 13`,
		Args: cobra.MinimumNArgs(1),
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

			if err := rt.requireModerator(); err != nil {
				return err
			}

			view := rejectView{Rejected: []int64{}, Missing: []int64{}}
			for _, id := range ids {
				err := rt.st.MarkRejected(cmd.Context(), id)
				switch {
				case errors.Is(err, store.ErrPendingNotFound):
					view.Missing = append(view.Missing, id)
				case err != nil:
					return WrapExitError(ExitCommandError, fmt.Sprintf("failed to reject #%d", id), err)
				default:
					view.Rejected = append(view.Rejected, id)
				}
			}
			if err := rt.out.Success(view); err != nil {
				return err
			}
			if len(view.Missing) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d changes not found", len(view.Missing)))
			}
			return nil
		},
	}
}

type rejectView struct {
	Rejected []int64 `json:"rejected"`
	Missing  []int64 `json:"missing"`
}

func (v rejectView) RenderText(w io.Writer) {
	for _, id := range v.Rejected {
		fmt.Fprintf(w, "rejected #%d\n", id)
	}
	for _, id := range v.Missing {
		fmt.Fprintf(w, "no queued change #%d\n", id)
	}
}
