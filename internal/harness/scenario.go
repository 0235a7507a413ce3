package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/modqueue/internal/store"
	"github.com/roach88/modqueue/internal/wiki"
)

// Scenario defines an approval scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Groups adds users to rights groups, e.g. {Bot: [bot]}.
	Groups map[string][]string `yaml:"groups,omitempty"`

	// Pages are created before anything is queued.
	Pages []PageSeed `yaml:"pages,omitempty"`

	// Pending changes are queued in order and get mod ids 1, 2, ...
	Pending []PendingSeed `yaml:"pending"`

	// Concurrent edits are written directly after queuing.
	Concurrent []DirectEdit `yaml:"concurrent,omitempty"`

	// Approve lists batches, run in order.
	Approve []ApproveStep `yaml:"approve"`

	// Expect checks the final pages, queue rows and outcomes.
	Expect Expectations `yaml:"expect,omitempty"`

	// Assertions validate the trace and final tables.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PageSeed is an initial page. User defaults to the scenario owner.
type PageSeed struct {
	Title string     `yaml:"title"`
	Text  string     `yaml:"text"`
	User  *wiki.User `yaml:"user,omitempty"`
}

// PendingSeed is a change to queue.
type PendingSeed struct {
	Kind      string    `yaml:"kind,omitempty"` // "edit" (default) or "move"
	User      wiki.User `yaml:"user"`
	Title     string    `yaml:"title"`
	NewTitle  string    `yaml:"new_title,omitempty"`
	Text      string    `yaml:"text,omitempty"`
	Comment   string    `yaml:"comment,omitempty"`
	IP        string    `yaml:"ip,omitempty"`
	XFF       string    `yaml:"xff,omitempty"`
	UserAgent string    `yaml:"user_agent,omitempty"`
	Tags      []string  `yaml:"tags,omitempty"`
	Minor     bool      `yaml:"minor,omitempty"`
	Bot       bool      `yaml:"bot,omitempty"`
	// At is the submission time as YYYYMMDDHHMMSS; defaults to the clock.
	At string `yaml:"at,omitempty"`
}

// DirectEdit changes a page outside the queue.
type DirectEdit struct {
	Title string     `yaml:"title"`
	Text  string     `yaml:"text"`
	User  *wiki.User `yaml:"user,omitempty"`
}

// ApproveStep is one batch: either explicit ids or every pending change
// by an author.
type ApproveStep struct {
	IDs    []int64 `yaml:"ids,omitempty"`
	Author string  `yaml:"author,omitempty"`
}

// Expectations describe the final state.
type Expectations struct {
	Pages    []PageExpect    `yaml:"pages,omitempty"`
	Pending  []PendingExpect `yaml:"pending,omitempty"`
	Outcomes []OutcomeExpect `yaml:"outcomes,omitempty"`
}

// PageExpect checks a page's latest revision. Unset fields are not checked.
type PageExpect struct {
	Title     string   `yaml:"title"`
	Missing   bool     `yaml:"missing,omitempty"`
	Text      *string  `yaml:"text,omitempty"`
	Revisions int      `yaml:"revisions,omitempty"`
	Author    string   `yaml:"author,omitempty"`
	Timestamp string   `yaml:"timestamp,omitempty"`
	IP        string   `yaml:"ip,omitempty"`
	UserAgent string   `yaml:"user_agent,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	Bot       *bool    `yaml:"bot,omitempty"`
	Minor     *bool    `yaml:"minor,omitempty"`
}

// PendingExpect checks a queue row.
type PendingExpect struct {
	ID       int64 `yaml:"id"`
	Merged   *bool `yaml:"merged,omitempty"`
	Conflict *bool `yaml:"conflict,omitempty"`
	Rejected *bool `yaml:"rejected,omitempty"`
}

// OutcomeExpect checks the last approval outcome of a change: "ok" or a
// failure code.
type OutcomeExpect struct {
	ID   int64  `yaml:"id"`
	Code string `yaml:"code"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is a consequence kind (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset of the consequence's args (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Table, Where and Expect select and check one row (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected kind order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Approve) == 0 {
		return fmt.Errorf("approve list is required and must be non-empty")
	}

	for i, p := range s.Pages {
		if p.Title == "" {
			return fmt.Errorf("pages[%d]: title is required", i)
		}
	}
	for i, p := range s.Pending {
		if p.Title == "" {
			return fmt.Errorf("pending[%d]: title is required", i)
		}
		if p.User.Name == "" {
			return fmt.Errorf("pending[%d]: user.name is required", i)
		}
		switch p.Kind {
		case "", string(wiki.KindEdit):
		case string(wiki.KindMove):
			if p.NewTitle == "" {
				return fmt.Errorf("pending[%d]: new_title is required for a move", i)
			}
		default:
			return fmt.Errorf("pending[%d]: unknown kind %q", i, p.Kind)
		}
		if p.At != "" {
			if _, err := store.ParseTimestamp(p.At); err != nil {
				return fmt.Errorf("pending[%d]: %w", i, err)
			}
		}
	}
	for i, e := range s.Concurrent {
		if e.Title == "" {
			return fmt.Errorf("concurrent[%d]: title is required", i)
		}
	}
	for i, step := range s.Approve {
		if (len(step.IDs) == 0) == (step.Author == "") {
			return fmt.Errorf("approve[%d]: exactly one of ids or author is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
