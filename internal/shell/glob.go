package shell

import (
	"regexp"
	"sort"
	"strings"
)

// HasGlob reports whether word contains a wildcard that Glob expands.
func HasGlob(word string) bool {
	return strings.Contains(word, "*") && !strings.Contains(word, "/")
}

// Glob matches pattern against names. Only "*" within a single path
// segment is supported. Hidden names match only when the pattern itself
// starts with a dot. With no match the pattern is returned unchanged.
func Glob(pattern string, names []string) []string {
	if !HasGlob(pattern) {
		return []string{pattern}
	}
	re, err := globRegexp(pattern)
	if err != nil {
		return []string{pattern}
	}

	hidden := strings.HasPrefix(pattern, ".")
	var matches []string
	for _, n := range names {
		if strings.HasPrefix(n, ".") && !hidden {
			continue
		}
		if re.MatchString(n) {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		return []string{pattern}
	}
	sort.Strings(matches)
	return matches
}

func globRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
