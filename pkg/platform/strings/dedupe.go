// Package strings holds small helpers for query and header values.
package strings

import (
	"strings"
)

// SplitList splits a comma separated value, trims each element and drops
// empties and duplicates. Order of first occurrence is kept.
//
//	SplitList(" leave,INCIDENT,,leave ") // []string{"leave", "INCIDENT"}
func SplitList(raw string) []string {
	return dedupe(strings.Split(raw, ","), strings.TrimSpace)
}

// SplitListUpper is SplitList with case folding to upper case, so "leave"
// and "LEAVE" count as the same element.
func SplitListUpper(raw string) []string {
	return dedupe(strings.Split(raw, ","), func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}
