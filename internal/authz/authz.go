// Package authz decides whether an authenticated principal may perform an
// operation on the ops API. The variant is picked once at startup.
package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Modes select an Authorizer variant.
const (
	ModeStatic       = "static"
	ModeAttribute    = "attribute"
	ModeRelationship = "relationship"
)

// Wildcard grants a relationship on every resource.
const Wildcard = "*"

// ErrForbidden is returned when a principal lacks the required role.
var ErrForbidden = errors.New("forbidden")

// Principal is the caller behind an API key.
type Principal struct {
	ID         string            `mapstructure:"principal" json:"principal"`
	Attributes map[string]string `mapstructure:"attributes" json:"attributes,omitempty"`
}

// Authorizer checks whether principal may perform action on resource.
type Authorizer interface {
	Authorize(ctx context.Context, principal Principal, action, resource string) error
}

// Config selects and parameterizes an Authorizer.
type Config struct {
	Mode string
	// Allowed lists principals for the static variant.
	Allowed []string
	// Attribute and Roles drive the attribute variant.
	Attribute string
	Roles     []string
	// Owners maps a resource to the principals related to it.
	Owners map[string][]string
}

// New builds the Authorizer named by cfg.Mode.
func New(cfg Config) (Authorizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeStatic:
		return NewStatic(cfg.Allowed), nil
	case ModeAttribute:
		if cfg.Attribute == "" {
			return nil, errors.New("attribute authorizer requires an attribute name")
		}
		return NewAttribute(cfg.Attribute, cfg.Roles), nil
	case ModeRelationship:
		return NewRelationship(cfg.Owners), nil
	}
	return nil, fmt.Errorf("unknown authorization mode %q", cfg.Mode)
}

// Static allows a fixed list of principals.
type Static struct {
	allowed map[string]struct{}
}

// NewStatic builds a Static authorizer.
func NewStatic(principals []string) *Static {
	s := &Static{allowed: make(map[string]struct{}, len(principals))}
	for _, p := range principals {
		if p = strings.TrimSpace(p); p != "" {
			s.allowed[p] = struct{}{}
		}
	}
	return s
}

// Authorize implements Authorizer.
func (s *Static) Authorize(_ context.Context, principal Principal, action, _ string) error {
	if _, ok := s.allowed[principal.ID]; ok {
		return nil
	}
	return deny(principal, action)
}

// Attribute allows principals whose attribute holds one of the roles.
type Attribute struct {
	attribute string
	roles     []string
}

// NewAttribute builds an Attribute authorizer.
func NewAttribute(attribute string, roles []string) *Attribute {
	return &Attribute{attribute: attribute, roles: slices.Clone(roles)}
}

// Authorize implements Authorizer. Attribute values may list several roles separated by commas.
func (a *Attribute) Authorize(_ context.Context, principal Principal, action, _ string) error {
	value := principal.Attributes[a.attribute]
	for _, held := range strings.Split(value, ",") {
		if slices.Contains(a.roles, strings.TrimSpace(held)) {
			return nil
		}
	}
	return deny(principal, action)
}

// Relationship allows principals related to the resource, or to every resource via Wildcard.
type Relationship struct {
	owners map[string][]string
}

// NewRelationship builds a Relationship authorizer.
func NewRelationship(owners map[string][]string) *Relationship {
	r := &Relationship{owners: make(map[string][]string, len(owners))}
	for resource, principals := range owners {
		r.owners[strings.ToLower(resource)] = slices.Clone(principals)
	}
	return r
}

// Authorize implements Authorizer.
func (r *Relationship) Authorize(_ context.Context, principal Principal, action, resource string) error {
	for _, key := range []string{strings.ToLower(resource), Wildcard} {
		if slices.Contains(r.owners[key], principal.ID) {
			return nil
		}
	}
	return deny(principal, action)
}

func deny(principal Principal, action string) error {
	return fmt.Errorf("%s may not %s: %w", principal.ID, action, ErrForbidden)
}
