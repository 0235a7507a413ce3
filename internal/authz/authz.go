// Package authz answers user-rights questions from a Casbin policy.
//
// Subjects are user names plus two implicit groups: "group:*" for everyone
// and "group:user" for registered accounts. Grouping rules ("g") attach
// users to further groups such as "group:bot".
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/roach88/modqueue/internal/wiki"
)

// RightModerate lets a user approve queued changes.
const RightModerate = "moderation"

const modelText = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.act == p.act || p.act == "*")
`

// DefaultPolicy is used when no policy file is configured.
var DefaultPolicy = [][]string{
	{"group:user", wiki.RightMinorEdit},
	{"group:bot", wiki.RightBot},
	{"group:moderator", RightModerate},
	{"group:sysop", "*"},
}

// Enforcer implements wiki.Rights.
type Enforcer struct {
	e *casbin.Enforcer
}

func newModel() (model.Model, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load rights model: %w", err)
	}
	return m, nil
}

// New creates an enforcer holding DefaultPolicy.
func New() (*Enforcer, error) {
	m, err := newModel()
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	for _, rule := range DefaultPolicy {
		if _, err := e.AddPolicy(rule[0], rule[1]); err != nil {
			return nil, fmt.Errorf("add default policy: %w", err)
		}
	}
	return &Enforcer{e: e}, nil
}

// Load creates an enforcer from a CSV policy file of "p, subject, right"
// and "g, user, group" lines.
func Load(path string) (*Enforcer, error) {
	m, err := newModel()
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(path))
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}
	return &Enforcer{e: e}, nil
}

// Grant gives subject a right. Subject is a user name or "group:<name>".
func (a *Enforcer) Grant(subject, right string) error {
	if _, err := a.e.AddPolicy(subject, right); err != nil {
		return fmt.Errorf("grant %s to %s: %w", right, subject, err)
	}
	return nil
}

// AddToGroup makes user a member of "group:<group>".
func (a *Enforcer) AddToGroup(userName, group string) error {
	if _, err := a.e.AddGroupingPolicy(userName, "group:"+group); err != nil {
		return fmt.Errorf("add %s to group %s: %w", userName, group, err)
	}
	return nil
}

// Allowed reports whether user holds right. Enforcement errors deny.
func (a *Enforcer) Allowed(user wiki.User, right string) bool {
	for _, sub := range subjects(user) {
		ok, err := a.e.Enforce(sub, right)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func subjects(u wiki.User) []string {
	out := []string{u.Name}
	if !u.IsAnonymous() {
		out = append(out, "group:user")
	}
	return append(out, "group:*")
}
