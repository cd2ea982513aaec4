// Package tokens implements the {{name}} substitution applied to configured
// command lines before they are handed to a supervisor.
package tokens

import (
	"fmt"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_.-]+)\}\}`)

// Table maps token names to their replacement values.
type Table map[string]string

// Merge layers other on top of t and returns the combined table. Neither
// input is mutated.
func (t Table) Merge(other Table) Table {
	if len(other) == 0 && t != nil {
		return t
	}
	merged := make(Table, len(t)+len(other))
	for k, v := range t {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Expand replaces every {{name}} reference in s. Referencing a token the
// table does not define is an error.
func (t Table) Expand(s string) (string, error) {
	var missing string
	expanded := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		value, ok := t[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("undefined token %q in %q", missing, s)
	}
	return expanded, nil
}

// ExpandAll expands every element of args, returning a new slice.
func (t Table) ExpandAll(args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		expanded, err := t.Expand(arg)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}
