package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/modqueue/internal/moderation"
	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/wiki"
)

// changeFlags are shared by submit and override.
type changeFlags struct {
	Title     string
	UserName  string
	UserID    int64
	Text      string
	TextFile  string
	Comment   string
	IP        string
	XFF       string
	UserAgent string
	Tags      []string
	At        string
}

func (f *changeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Title, "title", "", "page title (required)")
	cmd.Flags().StringVar(&f.UserName, "user", "", "author name, or an IP address for anonymous authors (required)")
	cmd.Flags().Int64Var(&f.UserID, "user-id", 0, "author id; 0 for anonymous")
	cmd.Flags().StringVar(&f.Text, "text", "", "new page text")
	cmd.Flags().StringVar(&f.TextFile, "text-file", "", "read new page text from file (- for stdin)")
	cmd.Flags().StringVarP(&f.Comment, "comment", "m", "", "edit summary")
	cmd.Flags().StringVar(&f.IP, "ip", "", "author IP address")
	cmd.Flags().StringVar(&f.XFF, "xff", "", "X-Forwarded-For header")
	cmd.Flags().StringVar(&f.UserAgent, "user-agent", "", "User-Agent header")
	cmd.Flags().StringSliceVar(&f.Tags, "tag", nil, "change tag (repeatable)")
	cmd.Flags().StringVar(&f.At, "at", "", "timestamp as YYYYMMDDHHMMSS (default now)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("user")
}

func (f *changeFlags) user() wiki.User {
	return wiki.User{ID: f.UserID, Name: f.UserName}
}

func (f *changeFlags) origin() wiki.Origin {
	return wiki.Origin{IP: f.IP, XFF: f.XFF, UserAgent: f.UserAgent}
}

func (f *changeFlags) timestamp() (time.Time, error) {
	if f.At == "" {
		return time.Time{}, nil
	}
	ts, err := store.ParseTimestamp(f.At)
	if err != nil {
		return time.Time{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --at %q: expected YYYYMMDDHHMMSS", f.At))
	}
	return ts, nil
}

func (f *changeFlags) text(stdin io.Reader) (string, error) {
	if f.TextFile == "" {
		return f.Text, nil
	}
	var (
		data []byte
		err  error
	)
	if f.TextFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(f.TextFile)
	}
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read text", err)
	}
	return string(data), nil
}

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	changeFlags
	MoveTo string
	Minor  bool
	Bot    bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue an edit or move for moderation",
		Long: `Queue a change for moderation. The page's current latest revision is
recorded as the change's base, so later edits to the page are merged in
when the change is approved.

Example:
  modq submit --title "Main Page" --user 192.0.2.7 --ip 192.0.2.7 --text-file new.txt
  modq submit --title "Old" --move-to "New" --user Alice --user-id 3 -m "rename"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts)
		},
	}

	opts.changeFlags.register(cmd)
	cmd.Flags().StringVar(&opts.MoveTo, "move-to", "", "queue a move of --title to this title")
	cmd.Flags().BoolVar(&opts.Minor, "minor", false, "mark as a minor edit")
	cmd.Flags().BoolVar(&opts.Bot, "bot", false, "mark as a bot edit")

	return cmd
}

type submitView struct {
	ModID int64  `json:"mod_id"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

func (v submitView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "queued %s of %s as #%d\n", v.Kind, v.Title, v.ModID)
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions) error {
	at, err := opts.timestamp()
	if err != nil {
		return err
	}
	text, err := opts.text(cmd.InOrStdin())
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer rt.close()

	sub := moderation.Submission{
		Kind:    wiki.KindEdit,
		Title:   opts.Title,
		User:    opts.user(),
		Origin:  opts.origin(),
		Text:    text,
		Comment: opts.Comment,
		Tags:    opts.Tags,
		Minor:   opts.Minor,
		Bot:     opts.Bot,
		At:      at,
	}
	if opts.MoveTo != "" {
		sub.Kind = wiki.KindMove
		sub.NewTitle = opts.MoveTo
	}

	id, err := rt.stack.Submit(cmd.Context(), sub)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to queue change", err)
	}
	rt.out.VerboseLog("base revision recorded for %s", opts.Title)
	return rt.out.Success(submitView{ModID: id, Kind: string(sub.Kind), Title: opts.Title})
}
