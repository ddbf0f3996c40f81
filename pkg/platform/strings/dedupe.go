// Package strings normalizes untrusted string slices before they become
// claims. Role lists arrive from external identity providers with mixed
// case, stray whitespace, and repeats; what lands in a token must be
// canonical so authorization checks compare exact values.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element, drops empties, and removes repeats.
// First occurrence wins, so the caller's ordering survives.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower additionally lowercases, collapsing case variants of
// the same role ("Reviewer", "REVIEWER") into one claim.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

func dedupe(values []string, canon func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		c := canon(v)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	return result
}
