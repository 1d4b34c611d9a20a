package common

import "strings"

// HasAny reports whether s contains any of the given substrings,
// ignoring case. Used to classify free-text upstream errors.
func HasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
