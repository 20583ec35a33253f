package policy

// Rule binds a routing pattern to its scope requirement. Pattern uses the
// net/http mux syntax, e.g. "GET /api/people/{id}".
type Rule struct {
	Pattern string
	Require Requirement
}

// Table is a declarative route policy: which scopes guard which operations.
// Handlers are mounted against it (see httpx.MountGuarded), which keeps the
// whole access policy readable in one place.
type Table []Rule

// Guard adds a rule to the table and returns the table for chaining.
func (t Table) Guard(pattern string, req Requirement) Table {
	return append(t, Rule{Pattern: pattern, Require: req})
}

// Lookup returns the requirement for a pattern, or an empty requirement when
// the pattern is unguarded.
func (t Table) Lookup(pattern string) Requirement {
	for _, r := range t {
		if r.Pattern == pattern {
			return r.Require
		}
	}
	return Requirement{}
}
