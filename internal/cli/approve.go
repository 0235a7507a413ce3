package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/modqueue/internal/consequence"
	"github.com/roach88/modqueue/internal/moderation"
)

// ApproveOptions holds flags for approve and approveall.
type ApproveOptions struct {
	*RootOptions
	DryRun bool
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApproveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approve <mod-id>...",
		Short: "Approve queued changes",
		Long: `Approve queued changes in the order given. Each change is applied as its
author, keeping the time, IP and tags it was submitted with. A change that
cannot be applied is reported and the rest of the batch continues.

Example:
  modq approve 12
  modq approve 12 13 14 --dry-run --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runApproval(cmd, opts, func(rt *runtime) (moderation.BatchReport, error) {
				return rt.stack.Approver.ApproveBatch(cmd.Context(), ids), nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the consequences without running them")
	return cmd
}

// NewApproveAllCommand creates the approveall command.
func NewApproveAllCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApproveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approveall <author>",
		Short: "Approve every pending change by one author",
		Long: `Approve every pending change by author, oldest first, as one batch.

Example:
  modq approveall 192.0.2.7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproval(cmd, opts, func(rt *runtime) (moderation.BatchReport, error) {
				return rt.stack.Approver.ApproveAll(cmd.Context(), args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the consequences without running them")
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid mod id %q", a))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type approvalResult struct {
	ModID      int64  `json:"mod_id"`
	Approved   bool   `json:"approved"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	RevisionID int64  `json:"revision_id,omitempty"`
	Created    bool   `json:"created,omitempty"`
	Merged     bool   `json:"merged,omitempty"`
	LogID      int64  `json:"log_id,omitempty"`
}

type approvalView struct {
	BatchID      string           `json:"batch_id"`
	DryRun       bool             `json:"dry_run"`
	Succeeded    int              `json:"succeeded"`
	Results      []approvalResult `json:"results"`
	Consequences []string         `json:"consequences,omitempty"`
}

func (v approvalView) RenderText(w io.Writer) {
	prefix := ""
	if v.DryRun {
		prefix = "dry run "
	}
	fmt.Fprintf(w, "%sbatch %s: %d of %d approved\n", prefix, v.BatchID, v.Succeeded, len(v.Results))
	for _, r := range v.Results {
		switch {
		case !r.Approved:
			fmt.Fprintf(w, "  #%d %s: %s\n", r.ModID, r.Code, r.Message)
		case r.LogID != 0:
			fmt.Fprintf(w, "  #%d moved (revision %d, log %d)\n", r.ModID, r.RevisionID, r.LogID)
		case r.Merged:
			fmt.Fprintf(w, "  #%d merged as revision %d\n", r.ModID, r.RevisionID)
		case r.Created:
			fmt.Fprintf(w, "  #%d created page at revision %d\n", r.ModID, r.RevisionID)
		default:
			fmt.Fprintf(w, "  #%d approved as revision %d\n", r.ModID, r.RevisionID)
		}
	}
	for _, c := range v.Consequences {
		fmt.Fprintf(w, "  would run %s\n", c)
	}
}

func newApprovalView(report moderation.BatchReport) approvalView {
	v := approvalView{BatchID: report.BatchID, Succeeded: report.Succeeded(), Results: []approvalResult{}}
	for _, o := range report.Outcomes {
		r := approvalResult{ModID: o.ModID, Approved: o.Result.IsOK()}
		if f, ok := consequence.AsFailure(o.Result.Err); ok {
			r.Code = string(f.Code)
			r.Message = f.Message
		} else if o.Result.Err != nil {
			r.Message = o.Result.Err.Error()
		}
		switch out := o.Result.Value.(type) {
		case consequence.EditOutcome:
			r.RevisionID, r.Created, r.Merged = out.RevisionID, out.Created, out.Merged
		case consequence.MoveOutcome:
			r.RevisionID, r.LogID = out.RevisionID, out.LogID
		}
		v.Results = append(v.Results, r)
	}
	return v
}

func runApproval(cmd *cobra.Command, opts *ApproveOptions, approve func(*runtime) (moderation.BatchReport, error)) error {
	rt, err := openRuntime(cmd, opts.RootOptions, opts.DryRun)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireModerator(); err != nil {
		return err
	}

	report, err := approve(rt)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list pending changes", err)
	}

	view := newApprovalView(report)
	if opts.DryRun {
		view.DryRun = true
		if mock, ok := rt.stack.Manager.(*consequence.MockManager); ok {
			for _, c := range mock.Consequences() {
				view.Consequences = append(view.Consequences, string(c.Kind()))
			}
		}
	}
	if err := rt.out.Success(view); err != nil {
		return err
	}

	if failed := len(view.Results) - view.Succeeded; failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d changes not approved", failed, len(view.Results)))
	}
	return nil
}
