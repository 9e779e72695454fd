package router

import "strings"

// matchPattern implements the router's pattern language: "*" matches
// anything, "prefix*" / "*suffix" match a one-sided wildcard, and any
// other string is an exact match. An empty pattern always passes (an
// unset filter never excludes a message).
func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(pattern, "*") && len(pattern) > 1 {
		// "*substring*" — not in the spec's pattern language proper, but
		// treating it as a substring match degrades gracefully instead of
		// erroring on a rule file typo.
		return strings.Contains(value, pattern[1:len(pattern)-1])
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(value, strings.TrimPrefix(pattern, "*"))
	}
	return pattern == value
}
