// Package merge implements the line-based three-way merge applied when a
// queued edit is approved after the document changed underneath it, plus
// unified-diff previews of queued changes.
package merge

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// hunk replaces base lines [i1, i2) with lines. i1 == i2 is a pure insertion.
type hunk struct {
	i1, i2 int
	lines  []string
}

// Merge3 merges the changes base→proposed and base→current.
//
// Lines keep their terminators, so text without a trailing newline merges
// like any other. Non-overlapping changes from both sides are combined;
// identical changes apply once. Changes touching the same base region, or
// insertions at the edge of the other side's change, are a conflict and
// ok is false.
func Merge3(base, proposed, current string) (merged string, ok bool) {
	switch {
	case proposed == current:
		return current, true
	case base == proposed:
		return current, true
	case base == current:
		return proposed, true
	}

	b := SplitLines(base)
	ours := changes(b, SplitLines(proposed))
	theirs := changes(b, SplitLines(current))

	var out strings.Builder
	pos := 0
	emit := func(h hunk) {
		for _, l := range b[pos:h.i1] {
			out.WriteString(l)
		}
		for _, l := range h.lines {
			out.WriteString(l)
		}
		pos = h.i2
	}

	i, j := 0, 0
	for i < len(ours) || j < len(theirs) {
		switch {
		case j >= len(theirs):
			emit(ours[i])
			i++
		case i >= len(ours):
			emit(theirs[j])
			j++
		default:
			a, c := ours[i], theirs[j]
			if overlaps(a, c) {
				if !sameHunk(a, c) {
					return "", false
				}
				emit(a)
				i++
				j++
				continue
			}
			if a.i1 < c.i1 {
				emit(a)
				i++
			} else {
				emit(c)
				j++
			}
		}
	}
	for _, l := range b[pos:] {
		out.WriteString(l)
	}
	return out.String(), true
}

// SplitLines splits text after each "\n", keeping terminators. A final
// line without a terminator is kept as-is; empty text has no lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func changes(base, other []string) []hunk {
	m := difflib.NewMatcherWithJunk(base, other, false, nil)
	var out []hunk
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, hunk{i1: op.I1, i2: op.I2, lines: other[op.J1:op.J2]})
	}
	return out
}

func overlaps(a, c hunk) bool {
	aIns, cIns := a.i1 == a.i2, c.i1 == c.i2
	switch {
	case aIns && cIns:
		return a.i1 == c.i1
	case aIns:
		return c.i1 <= a.i1 && a.i1 <= c.i2
	case cIns:
		return a.i1 <= c.i1 && c.i1 <= a.i2
	default:
		return a.i1 < c.i2 && c.i1 < a.i2
	}
}

func sameHunk(a, c hunk) bool {
	if a.i1 != c.i1 || a.i2 != c.i2 || len(a.lines) != len(c.lines) {
		return false
	}
	for k := range a.lines {
		if a.lines[k] != c.lines[k] {
			return false
		}
	}
	return true
}
