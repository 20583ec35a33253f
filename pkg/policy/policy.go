// Package policy makes scope-based authorization decisions for resource
// endpoints. A requirement names the scopes that may access an operation;
// a caller passes when it holds at least one of them, and the admin scope
// passes every check.
package policy

import (
	"fmt"
	"strings"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// AdminScope grants access to every guarded operation.
const AdminScope = "admin"

// Requirement names the scopes that satisfy an operation. A caller needs
// any one of them.
type Requirement struct {
	AnyOf []string
}

// Any builds a requirement satisfied by any one of the given scopes.
func Any(scopes ...string) Requirement {
	return Requirement{AnyOf: scopes}
}

// Decision is the outcome of an authorization check. Reason is only set on
// denial and is meant for logs, not client responses.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide checks the caller's granted scopes against a requirement. An empty
// requirement allows everyone; the admin scope allows everything.
func Decide(granted []string, req Requirement) Decision {
	if len(req.AnyOf) == 0 {
		return Decision{Allowed: true}
	}

	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}

	if _, ok := have[AdminScope]; ok {
		return Decision{Allowed: true}
	}
	for _, want := range req.AnyOf {
		if _, ok := have[want]; ok {
			return Decision{Allowed: true}
		}
	}

	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("requires one of [%s]", strings.Join(req.AnyOf, " ")),
	}
}

// Principal is the authenticated identity a decision is made for.
type Principal struct {
	Subject string
	Name    string
	Scopes  []string
}

// FromClaims builds a principal from verified token claims.
func FromClaims(c *jwtx.Claims) Principal {
	if c == nil {
		return Principal{}
	}
	return Principal{
		Subject: c.Subject,
		Name:    c.Name,
		Scopes:  c.Scopes,
	}
}

// Allows reports whether the principal satisfies the requirement.
func (p Principal) Allows(req Requirement) bool {
	return Decide(p.Scopes, req).Allowed
}
