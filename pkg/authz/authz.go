// Package authz implements the permission gate consulted before every
// administrative registry mutation. Authorization is deny-by-default: a
// sender acts through roles, and a role carries an explicit operation grant.
package authz

import (
	"context"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quorumlabs/votegrid/pkg/registry"
)

// Policy is the declarative grant table, usually loaded from YAML.
type Policy struct {
	// Roles maps a role name to the operations it may perform.
	Roles map[string][]registry.Operation `yaml:"roles"`
	// Senders maps a sender identity to statically assigned roles, in
	// addition to any roles carried by the request's token.
	Senders map[string][]string `yaml:"senders"`
	// MaxWeight caps the weight an add or reweight may set. Zero means no cap.
	MaxWeight uint64 `yaml:"max_weight"`
}

// LoadPolicy reads a Policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type rolesKey struct{}

// WithRoles attaches token-derived roles to the context. The API layer calls
// this after validating the bearer token.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// RolesFromContext returns the roles attached by WithRoles, if any.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey{}).([]string)
	return roles
}

// Engine evaluates a Policy. It implements registry.Authorizer.
type Engine struct {
	grants    map[string]map[registry.Operation]bool
	senders   map[string][]string
	maxWeight uint64
	log       *slog.Logger
}

// Compile-time interface check.
var _ registry.Authorizer = (*Engine)(nil)

// NewEngine compiles a policy into a grant lookup.
func NewEngine(p *Policy) *Engine {
	grants := make(map[string]map[registry.Operation]bool, len(p.Roles))
	for role, ops := range p.Roles {
		set := make(map[registry.Operation]bool, len(ops))
		for _, op := range ops {
			set[op] = true
		}
		grants[role] = set
	}
	return &Engine{
		grants:    grants,
		senders:   p.Senders,
		maxWeight: p.MaxWeight,
		log:       slog.Default().With("component", "authz"),
	}
}

// Authorize reports whether sender may perform op. Roles come from the
// request context (token-derived) and the policy's static sender table. The
// operation context args are guarded where the policy constrains them.
func (e *Engine) Authorize(ctx context.Context, sender string, op registry.Operation, args ...any) bool {
	if !e.hasGrant(ctx, sender, op) {
		e.log.InfoContext(ctx, "denied", "sender", sender, "op", string(op))
		return false
	}
	if !e.argsAllowed(op, args) {
		e.log.InfoContext(ctx, "denied by argument guard", "sender", sender, "op", string(op))
		return false
	}
	return true
}

func (e *Engine) hasGrant(ctx context.Context, sender string, op registry.Operation) bool {
	for _, role := range RolesFromContext(ctx) {
		if e.grants[role][op] {
			return true
		}
	}
	for _, role := range e.senders[sender] {
		if e.grants[role][op] {
			return true
		}
	}
	return false
}

// argsAllowed applies the weight cap to the operations that carry one:
// add_source args are (id, weight), change_weight args are (new, previous).
func (e *Engine) argsAllowed(op registry.Operation, args []any) bool {
	if e.maxWeight == 0 {
		return true
	}
	switch op {
	case registry.OpAddSource:
		if len(args) == 2 {
			if w, ok := args[1].(uint64); ok && w > e.maxWeight {
				return false
			}
		}
	case registry.OpChangeWeight:
		if len(args) == 2 {
			if w, ok := args[0].(uint64); ok && w > e.maxWeight {
				return false
			}
		}
	}
	return true
}

// AllowAll authorizes every operation. For tests and local development only.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, registry.Operation, ...any) bool { return true }
