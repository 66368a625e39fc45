// Package permission provides declarative glob rules controlling which
// tools the agent may dispatch. Remote tools surface under bridged
// names like "mcp__weather__get_forecast", so patterns such as
// "mcp__weather__*" scope a rule to one server.
package permission

import "github.com/bmatcuk/doublestar/v4"

// Decision is the outcome of a rule check.
type Decision int

const (
	Allow Decision = iota
	Deny
)

// Rule pairs a glob pattern with a decision.
type Rule struct {
	Pattern  string
	Decision Decision
}

// Match evaluates rules against a tool name. Deny rules win over allow
// rules regardless of order. Returns (decision, matched); matched is
// false when no rule's pattern applies.
func Match(rules []Rule, toolName string) (Decision, bool) {
	var hasAllow bool

	for _, r := range rules {
		ok, err := doublestar.Match(r.Pattern, toolName)
		if err != nil || !ok {
			continue
		}
		if r.Decision == Deny {
			return Deny, true
		}
		hasAllow = true
	}

	if hasAllow {
		return Allow, true
	}
	return Allow, false
}

// Allowed reports whether the named tool may be dispatched under the
// rule set. With no rules everything is allowed. Once any allow rule
// exists the rule set becomes an allowlist: a tool matching no rule is
// denied.
func Allowed(rules []Rule, toolName string) bool {
	decision, matched := Match(rules, toolName)
	if decision == Deny {
		return false
	}
	if matched {
		return true
	}
	for _, r := range rules {
		if r.Decision == Allow {
			return false
		}
	}
	return true
}
