package types

import "regexp"

// TokenPattern matches substitution tokens of the form {{name}}. Token names
// start with a letter or underscore and may contain dots for capture
// references like {{create.order_id}}.
var TokenPattern = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_.-]*)\}\}`)

// FindTokens returns the distinct token names in s, in order of first
// appearance.
func FindTokens(s string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, m := range TokenPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		tokens = append(tokens, name)
	}
	return tokens
}
