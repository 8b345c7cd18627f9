package source

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// bareName strips an owner prefix from a repository pattern, so
// "org/service-*" and "service-*" match the same repositories.
func bareName(pattern string) string {
	if i := strings.LastIndex(pattern, "/"); i >= 0 {
		return pattern[i+1:]
	}
	return pattern
}

// globMatch matches a repository name against a pattern with glob
// semantics. A pattern with no wildcards degrades to string equality.
func globMatch(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// applyExclusions drops resolved names matching any exclude pattern
// and returns the survivors sorted. Exclusions always run last.
func applyExclusions(resolved map[string]bool, exclude []string) []string {
	out := make([]string, 0, len(resolved))
	for name := range resolved {
		excluded := false
		for _, ex := range exclude {
			if globMatch(bareName(ex), name) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
