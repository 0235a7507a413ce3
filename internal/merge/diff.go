package merge

import (
	"bytes"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	sgdiff "github.com/sourcegraph/go-diff/diff"
)

// Stats summarizes a unified diff.
type Stats struct {
	Hunks   int `json:"hunks"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// UnifiedDiff renders the change from oldText to newText for name.
// Identical inputs produce an empty diff.
func UnifiedDiff(oldText, newText, name string) (string, error) {
	if oldText == newText {
		return "", nil
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("unified diff: %w", err)
	}
	return out, nil
}

// DiffStats parses a unified diff and counts its hunks and changed lines.
func DiffStats(patch string) (Stats, error) {
	if patch == "" {
		return Stats{}, nil
	}
	files, err := sgdiff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return Stats{}, fmt.Errorf("parse diff: %w", err)
	}
	var st Stats
	for _, fd := range files {
		for _, h := range fd.Hunks {
			st.Hunks++
			for _, line := range bytes.Split(h.Body, []byte{'\n'}) {
				if len(line) == 0 {
					continue
				}
				switch line[0] {
				case '+':
					st.Added++
				case '-':
					st.Removed++
				}
			}
		}
	}
	return st, nil
}
