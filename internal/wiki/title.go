package wiki

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Title is a normalized page title in storage form: NFC, underscores for
// spaces, first letter upper-cased.
type Title string

const invalidTitleChars = "#<>[]|{}"

// NewTitle normalizes s into a Title.
// Returns a *RejectedError for empty titles or titles with forbidden characters.
func NewTitle(s string) (Title, error) {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "", &RejectedError{Reason: "empty title"}
	}
	for _, r := range s {
		if strings.ContainsRune(invalidTitleChars, r) || unicode.IsControl(r) {
			return "", &RejectedError{Reason: fmt.Sprintf("title %q contains forbidden character %q", s, r)}
		}
	}
	first, size := utf8.DecodeRuneInString(s)
	return Title(string(unicode.ToUpper(first)) + s[size:]), nil
}

// MustTitle is NewTitle for literals known to be valid.
func MustTitle(s string) Title {
	t, err := NewTitle(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Text returns the display form with spaces.
func (t Title) Text() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func (t Title) String() string {
	return string(t)
}

// User identifies the author of a change. ID 0 is an anonymous author
// whose Name is an IP address.
type User struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// IsAnonymous reports whether the user has no account.
func (u User) IsAnonymous() bool {
	return u.ID == 0
}

// ChangeKind is the category of a change.
type ChangeKind string

const (
	KindEdit ChangeKind = "edit"
	KindMove ChangeKind = "move"
)

// Origin is the client metadata of a write: source address, forwarded-for
// chain and user agent.
type Origin struct {
	IP        string `json:"ip" yaml:"ip"`
	XFF       string `json:"xff,omitempty" yaml:"xff"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent"`
}
