package wiki

import "context"

const (
	// RightBot lets a user's edits be hidden from default change feeds.
	RightBot = "bot"
	// RightMinorEdit lets a user flag edits as minor.
	RightMinorEdit = "minoredit"
)

// Rights answers permission questions about users.
type Rights interface {
	Allowed(user User, right string) bool
}

// RightsFunc adapts a function to Rights.
type RightsFunc func(user User, right string) bool

func (f RightsFunc) Allowed(user User, right string) bool { return f(user, right) }

// EditFlags are caller-requested flags for an edit.
type EditFlags struct {
	Minor bool
	Bot   bool
}

// EditRequest is a create or update of one page's content.
type EditRequest struct {
	Title   Title
	Text    string
	Comment string
	Flags   EditFlags
	User    User
	Origin  Origin
}

// MoveRequest renames a page.
type MoveRequest struct {
	From          Title
	To            Title
	Reason        string
	User          User
	Origin        Origin
	LeaveRedirect bool
}

// WriteResult reports what a write produced.
type WriteResult struct {
	PageID     int64
	RevisionID int64
	ParentID   int64
	IDs        Identifiers
	NullEdit   bool
}

// DocumentStore is the document storage the approval pipeline writes to.
type DocumentStore interface {
	// CreateDocument creates a page; fails with ErrPageExists if it exists.
	CreateDocument(ctx context.Context, req EditRequest) (WriteResult, error)

	// UpdateDocument replaces a page's content only if its latest revision
	// is expectedLatest; otherwise fails with ErrVersionMismatch.
	UpdateDocument(ctx context.Context, req EditRequest, expectedLatest int64) (WriteResult, error)

	// MoveDocument renames a page.
	MoveDocument(ctx context.Context, req MoveRequest) (WriteResult, error)

	// LatestVersion returns the page's latest revision id, 0 if the page
	// does not exist.
	LatestVersion(ctx context.Context, title Title) (int64, error)

	// ContentAt returns the text of a revision.
	ContentAt(ctx context.Context, revID int64) (string, error)

	// Merge3 three-way merges proposed and current against base.
	Merge3(base, proposed, current string) (string, bool)
}

// TagTarget addresses the rows one change produced.
type TagTarget struct {
	RCID  int64
	RevID int64
	LogID int64
}

// Tagger attaches change tags to a committed change.
type Tagger interface {
	AddTags(ctx context.Context, target TagTarget, tags []string) error
}

// TagsUpdate is delivered to tag observers after tags are attached.
type TagsUpdate struct {
	Target   TagTarget
	Added    []string
	Removed  []string
	Previous []string
}

// TagObserver is notified after tags change on a target.
type TagObserver func(ctx context.Context, u TagsUpdate)
