package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/modqueue/internal/approvehook"
	"github.com/roach88/modqueue/internal/wiki"
)

// OverrideOptions holds flags for the override command.
type OverrideOptions struct {
	*RootOptions
	changeFlags
}

// NewOverrideCommand creates the override command.
func NewOverrideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OverrideOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "override",
		Short: "Write a page directly with overridden author metadata",
		Long: `Write a page as --user, bypassing the queue, with the timestamp, IP,
headers and tags given on the command line recorded instead of the
moderator's own. Used to replay changes accepted outside the queue.

Example:
  modq override --title "Main Page" --user 192.0.2.7 --ip 192.0.2.7 \
    --at 20240101120000 --tag imported --text-file page.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOverride(cmd, opts)
		},
	}

	opts.changeFlags.register(cmd)
	return cmd
}

type overrideView struct {
	Title      string `json:"title"`
	RevisionID int64  `json:"revision_id"`
	Created    bool   `json:"created"`
	NullEdit   bool   `json:"null_edit"`
}

func (v overrideView) RenderText(w io.Writer) {
	switch {
	case v.NullEdit:
		fmt.Fprintf(w, "%s unchanged at revision %d\n", v.Title, v.RevisionID)
	case v.Created:
		fmt.Fprintf(w, "created %s at revision %d\n", v.Title, v.RevisionID)
	default:
		fmt.Fprintf(w, "wrote %s as revision %d\n", v.Title, v.RevisionID)
	}
}

func runOverride(cmd *cobra.Command, opts *OverrideOptions) error {
	at, err := opts.timestamp()
	if err != nil {
		return err
	}
	text, err := opts.text(cmd.InOrStdin())
	if err != nil {
		return err
	}
	title, err := wiki.NewTitle(opts.Title)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid title", err)
	}

	rt, err := openRuntime(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.requireModerator(); err != nil {
		return err
	}

	ctx := cmd.Context()
	user := opts.user()
	task := approvehook.Task{
		IP:        opts.IP,
		XFF:       opts.XFF,
		UserAgent: opts.UserAgent,
		Tags:      opts.Tags,
		Timestamp: at,
	}
	if res := rt.stack.Approver.InstallMetadataOverride(ctx, title, user, wiki.KindEdit, task); !res.IsOK() {
		return WrapExitError(ExitCommandError, "failed to install override", res.Err)
	}
	defer rt.stack.Hooks.Reset()

	latest, err := rt.stack.Docs.LatestVersion(ctx, title)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read page", err)
	}
	req := wiki.EditRequest{
		Title:   title,
		Text:    text,
		Comment: opts.Comment,
		User:    user,
		Origin:  wiki.Origin{IP: rt.cfg.Moderator.IP, UserAgent: rt.cfg.Moderator.UserAgent},
	}
	var wr wiki.WriteResult
	if latest == 0 {
		wr, err = rt.stack.Docs.CreateDocument(ctx, req)
	} else {
		wr, err = rt.stack.Docs.UpdateDocument(ctx, req, latest)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "write rejected", err)
	}

	return rt.out.Success(overrideView{
		Title:      string(title),
		RevisionID: wr.RevisionID,
		Created:    latest == 0,
		NullEdit:   wr.NullEdit,
	})
}
