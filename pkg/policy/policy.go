// Package policy evaluates role capabilities against tenant-scoped resources.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// Action is an operation performed on a resource.
type Action string

const (
	ActionList      Action = "list"
	ActionRead      Action = "read"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionRun       Action = "run"
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
	ActionExecute   Action = "execute"
	ActionRate      Action = "rate"
	ActionCancel    Action = "cancel"
)

// Scope restricts which resources a rule applies to.
type Scope string

const (
	ScopeAny     Scope = "any"
	ScopeCompany Scope = "company"
	ScopeOwner   Scope = "owner"
	ScopePublic  Scope = "public"
)

const anyRole = "*"

//go:embed default.yaml
var defaultRules []byte

// Rule grants actions on a resource kind to a set of roles within a scope.
type Rule struct {
	Roles    []string            `yaml:"roles"`
	Resource models.ResourceKind `yaml:"resource"`
	Actions  []Action            `yaml:"actions"`
	Scope    Scope               `yaml:"scope"`
}

type document struct {
	Rules []Rule `yaml:"rules"`
}

// Policy is an immutable capability table.
type Policy struct {
	rules []Rule
}

// Default returns the embedded capability table.
func Default() *Policy {
	p, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Errorf("embedded policy is invalid: %w", err))
	}

	return p
}

// Load reads a capability table from a YAML file. An empty path yields the default table.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	return Parse(data)
}

// Parse builds a policy from YAML.
func Parse(data []byte) (*Policy, error) {
	var doc document

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	for i, rule := range doc.Rules {
		if len(rule.Roles) == 0 || len(rule.Actions) == 0 || rule.Resource == "" {
			return nil, fmt.Errorf("rule %d: roles, resource and actions are required", i)
		}

		switch rule.Scope {
		case ScopeAny, ScopeCompany, ScopeOwner, ScopePublic:
		default:
			return nil, fmt.Errorf("rule %d: %w: %q", i, errUnknownScope, rule.Scope)
		}
	}

	return &Policy{rules: doc.Rules}, nil
}

var errUnknownScope = errors.New("unknown scope")

// Allows reports whether the actor's role holds the action on the resource kind at any scope.
func (p *Policy) Allows(actor models.Actor, kind models.ResourceKind, action Action) bool {
	for _, rule := range p.rules {
		if rule.Resource == kind && rule.grants(actor.Role, action) {
			return true
		}
	}

	return false
}

// Unrestricted reports whether a rule grants the action on every resource of kind.
func (p *Policy) Unrestricted(actor models.Actor, kind models.ResourceKind, action Action) bool {
	for _, rule := range p.rules {
		if rule.Resource == kind && rule.Scope == ScopeAny && rule.grants(actor.Role, action) {
			return true
		}
	}

	return false
}

// CanAccess reports whether the actor may perform the action on the resource.
func (p *Policy) CanAccess(actor models.Actor, resource models.Resource, action Action) bool {
	if actor.UserID == "" {
		return false
	}

	for _, rule := range p.rules {
		if rule.Resource != resource.Kind || !rule.grants(actor.Role, action) {
			continue
		}

		if rule.Scope.matches(actor, resource) {
			return true
		}
	}

	return false
}

func (r Rule) grants(role string, action Action) bool {
	if !slices.Contains(r.Actions, action) {
		return false
	}

	return slices.Contains(r.Roles, anyRole) || slices.Contains(r.Roles, role)
}

func (s Scope) matches(actor models.Actor, resource models.Resource) bool {
	switch s {
	case ScopeAny:
		return true
	case ScopeCompany:
		return actor.CompanyID != "" && resource.CompanyID == actor.CompanyID
	case ScopeOwner:
		return resource.OwnerID != "" && resource.OwnerID == actor.UserID
	case ScopePublic:
		return resource.Public
	default:
		return false
	}
}
