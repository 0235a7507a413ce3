package wiki

import (
	"context"
	"time"
)

// Phase names a point in the write pipeline where handlers run.
type Phase string

const (
	// PhasePreFinalize runs inside the write transaction, after the rows
	// are built and before any are inserted. Handlers may mutate the
	// Record. A handler error aborts the write. Handlers must not query
	// the database: the write transaction holds the only connection.
	PhasePreFinalize Phase = "pre-finalize"

	// PhasePostFinalize runs after commit with the assigned row ids.
	// Handler errors are logged and do not undo the write.
	PhasePostFinalize Phase = "post-finalize"
)

// RevisionRow is a stored revision.
type RevisionRow struct {
	ID        int64
	PageID    int64
	ParentID  int64
	Timestamp time.Time
	User      User
	Comment   string
	Minor     bool
	Text      string
	SHA1      string
}

// RecentChangeRow is a row of the recent-changes feed.
type RecentChangeRow struct {
	ID        int64
	Timestamp time.Time
	User      User
	Title     Title
	Type      string
	ThisOldID int64
	LastOldID int64
	LogID     int64
	Bot       bool
	Minor     bool
	New       bool
	IP        string
	Comment   string
}

// TrackingRow is the per-change client tracking row. IPHex is derived
// from IP at insert time.
type TrackingRow struct {
	ID        int64
	Timestamp time.Time
	User      User
	Title     Title
	Type      string
	ThisOldID int64
	LogID     int64
	IP        string
	IPHex     string
	XFF       string
	UserAgent string
}

// LogRow is an audit-log entry.
type LogRow struct {
	ID        int64
	Type      string
	Action    string
	Timestamp time.Time
	User      User
	Title     Title
	PageID    int64
	Comment   string
	Params    string
}

// Record holds the rows a single write is about to produce. Nil members
// are not produced by this kind of write. Redirect is the revision left at
// the old title by a move.
type Record struct {
	Revision     *RevisionRow
	Redirect     *RevisionRow
	RecentChange *RecentChangeRow
	Tracking     *TrackingRow
	Log          *LogRow
}

// SetTimestamp overwrites the timestamp of every row in the record.
func (r *Record) SetTimestamp(ts time.Time) {
	if r.Revision != nil {
		r.Revision.Timestamp = ts
	}
	if r.Redirect != nil {
		r.Redirect.Timestamp = ts
	}
	if r.RecentChange != nil {
		r.RecentChange.Timestamp = ts
	}
	if r.Tracking != nil {
		r.Tracking.Timestamp = ts
	}
	if r.Log != nil {
		r.Log.Timestamp = ts
	}
}

// Identifiers are the row ids assigned by a committed write. Zero means the
// write produced no row of that kind.
type Identifiers struct {
	RevID int64
	LogID int64
	RCID  int64
}

// PhaseEvent describes a write to phase handlers.
//
// Title is the page the change was requested on; for moves that is the
// source title. PreviousTimestamp is the timestamp of the page's latest
// revision before this write, zero for page creations.
type PhaseEvent struct {
	Phase             Phase
	Title             Title
	User              User
	Kind              ChangeKind
	PreviousTimestamp time.Time
	Record            *Record
	IDs               Identifiers
}

// PhaseHandler observes or amends a write at one phase.
type PhaseHandler func(ctx context.Context, ev *PhaseEvent) error

// PhaseRegistrar accepts phase handlers.
type PhaseRegistrar interface {
	OnPhase(phase Phase, h PhaseHandler)
}
