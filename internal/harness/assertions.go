package harness

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/modqueue/internal/store"
)

// identifier guards table and column names, which are interpolated into
// final_state queries.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion. Trace is set for trace
// assertions and printed after the message.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
	for _, ev := range e.Trace {
		fmt.Fprintf(&b, "\n  #%d %s", ev.Seq, ev.Kind)
		if ev.ModID != 0 {
			fmt.Fprintf(&b, " mod=%d", ev.ModID)
		}
		fmt.Fprintf(&b, " -> %s", ev.Outcome)
	}
	return b.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. final_state assertions need st; with a nil store they fail.
func EvaluateAssertions(ctx context.Context, st *store.Store, result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if st == nil {
				err = fmt.Errorf("assertions[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(ctx, st, a)
			}
		default:
			err = fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains passes if some event of the kind carries at least
// the given args.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Kind == a.Action && matchArgs(ev.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s with %v", a.Action, a.Args),
		Actual:   "no such event",
		Trace:    trace,
	}
}

// assertTraceOrder compares first occurrences; other kinds may interleave.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	first := func(kind string) int {
		return slices.IndexFunc(trace, func(ev TraceEvent) bool { return ev.Kind == kind })
	}
	last := -1
	for i, kind := range a.Actions {
		pos := first(kind)
		if pos < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %v", a.Actions),
				Actual:   "missing action: " + kind,
				Trace:    trace,
			}
		}
		if pos <= last {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %v", a.Actions),
				Actual:   fmt.Sprintf("%s (#%d) should be before %s (#%d)", a.Actions[i-1], last+1, kind, pos+1),
				Trace:    trace,
			}
		}
		last = pos
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Kind == a.Action {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
		Actual:   fmt.Sprintf("%d occurrences", n),
		Trace:    trace,
	}
}

// assertFinalState selects exactly one row of a.Table matching a.Where and
// compares the a.Expect columns.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !identifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q", a.Table)
	}
	cols := slices.Sorted(maps.Keys(a.Where))
	query := "SELECT * FROM " + a.Table
	args := make([]any, 0, len(cols))
	conds := make([]string, 0, len(cols))
	for _, c := range cols {
		if !identifier.MatchString(c) {
			return fmt.Errorf("invalid column name %q in where", c)
		}
		conds = append(conds, c+" = ?")
		args = append(args, sqlValue(a.Where[c]))
	}
	where := "(all rows)"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
		query += " WHERE " + where
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("final_state %s: %w", a.Table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("final_state %s: %w", a.Table, err)
	}
	var row map[string]any
	for rows.Next() {
		if row != nil {
			return &AssertionError{Type: AssertFinalState, Expected: "one row in " + a.Table + " where " + where, Actual: "several rows"}
		}
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("final_state %s: %w", a.Table, err)
		}
		row = make(map[string]any, len(names))
		for i, n := range names {
			row[n] = values[i]
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("final_state %s: %w", a.Table, err)
	}
	if row == nil {
		return &AssertionError{Type: AssertFinalState, Expected: "a row in " + a.Table + " where " + where, Actual: "row not found"}
	}

	for _, col := range slices.Sorted(maps.Keys(a.Expect)) {
		got, ok := row[col]
		if !ok {
			return &AssertionError{Type: AssertFinalState, Expected: "column " + col, Actual: fmt.Sprintf("columns %v", names)}
		}
		if !stateValuesEqual(a.Expect[col], got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Table, col, a.Expect[col]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

func sqlValue(v any) any {
	switch v.(type) {
	case string, int, int64, bool:
		return v
	}
	return fmt.Sprint(v)
}

// stateValuesEqual compares a YAML value with a SQLite column value.
// SQLite returns text as []byte and booleans as integers.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if b, ok := expected.(bool); ok {
		n, isInt := actual.(int64)
		return isInt && b == (n != 0)
	}
	return valuesEqual(actual, expected)
}

// matchArgs reports whether actual contains every expected arg.
func matchArgs(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a trace or column value with a YAML value. Numbers
// compare across int widths; a []string matches a YAML list of strings.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if a, ok := toInt64(actual); ok {
		e, ok := toInt64(expected)
		return ok && a == e
	}
	if a, ok := actual.([]string); ok {
		e, ok := expected.([]any)
		return ok && slices.EqualFunc(a, e, func(s string, v any) bool { return v == s })
	}
	return reflect.DeepEqual(actual, expected)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
