package exclude

import (
	"path"
	"strings"
)

// Matcher decides whether a relative path is ignored. A plain pattern
// matches any path component by name, a glob is matched per component,
// a trailing slash restricts the pattern to directories and a pattern
// containing a slash is anchored at the sync root. Glob characters are
// escaped with a backslash; a malformed glob is compared literally.
type Matcher struct {
	patterns []string
}

// New builds a matcher from exactly the given patterns. An empty list
// excludes nothing.
func New(patterns []string) *Matcher {
	seen := make(map[string]bool, len(patterns))
	merged := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		merged = append(merged, p)
	}
	return &Matcher{patterns: merged}
}

// Merge combines pattern lists, dropping blanks and duplicates
func Merge(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string{}, m.patterns...)
}

func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.Trim(strings.TrimPrefix(relPath, "./"), "/")
	if relPath == "" {
		return false
	}
	parts := strings.Split(relPath, "/")

	for _, p := range m.patterns {
		dirOnly := strings.HasSuffix(p, "/")
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}

		if strings.Contains(p, "/") {
			if anchoredMatch(p, parts, isDir, dirOnly) {
				return true
			}
			continue
		}

		for i, part := range parts {
			last := i == len(parts)-1
			if dirOnly && last && !isDir {
				continue
			}
			if matchName(p, part) {
				return true
			}
		}
	}
	return false
}

func anchoredMatch(pattern string, parts []string, isDir, dirOnly bool) bool {
	depth := len(strings.Split(pattern, "/"))
	if depth > len(parts) {
		return false
	}
	if dirOnly && depth == len(parts) && !isDir {
		return false
	}
	target := strings.Join(parts[:depth], "/")
	ok, err := path.Match(pattern, target)
	if err != nil {
		return pattern == target
	}
	return ok
}

func matchName(pattern, name string) bool {
	if !strings.ContainsAny(pattern, `*?[\`) {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	if err != nil {
		return pattern == name
	}
	return ok
}
