// Package approvehook carries the original submitter's metadata onto the
// rows written when a moderator approves a queued change.
//
// Before an approval write, the approver installs a Task for the change's
// (title, user, kind). The Hook, registered on the document store's write
// phases, looks the task up for every write and, on a match, rewrites the
// timestamp, IP, forwarded-for chain and user agent of the new rows, then
// attaches the submitter's change tags after commit.
package approvehook

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/modqueue/internal/wiki"
)

// Key addresses one pending approval write.
type Key struct {
	Title string
	User  string
	Kind  wiki.ChangeKind
}

// KeyOf builds the lookup key for a write. Title and user name are NFC
// normalized so equivalent spellings collide.
func KeyOf(title wiki.Title, user wiki.User, kind wiki.ChangeKind) Key {
	return Key{
		Title: norm.NFC.String(string(title)),
		User:  norm.NFC.String(user.Name),
		Kind:  kind,
	}
}

func (k Key) String() string {
	return k.Title + "|" + k.User + "|" + string(k.Kind)
}

// Task is the submitter metadata to apply. Empty fields leave the
// corresponding value of the write untouched.
type Task struct {
	IP        string    `json:"ip,omitempty" yaml:"ip"`
	XFF       string    `json:"xff,omitempty" yaml:"xff"`
	UserAgent string    `json:"user_agent,omitempty" yaml:"user_agent"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags"`
	Timestamp time.Time `json:"timestamp,omitempty" yaml:"timestamp"`
}

// ParseTags splits a newline-separated tag list. Blank entries and
// repeats are dropped; order is kept.
func ParseTags(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		tag := strings.TrimSpace(line)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
