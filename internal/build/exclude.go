package build

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which discovered files are left out of a build.
//
// A pattern containing "**", '?', '[' or '{' is a doublestar glob matched
// against the slash-separated path relative to the root. Any other pattern
// is either a literal prefix of that path, kept as written apart from a
// leading "./", or a prefix and suffix split on the first '*'. Text after a second '*' is ignored.
type Filter struct {
	root     string
	patterns []pattern
}

type pattern struct {
	raw    string
	glob   bool
	star   bool
	prefix string
	suffix string
}

// NewFilter compiles patterns relative to root.
func NewFilter(root string, patterns []string) *Filter {
	f := &Filter{root: root}
	for _, raw := range patterns {
		p := pattern{raw: strings.TrimPrefix(filepath.ToSlash(raw), "./")}
		switch {
		case strings.Contains(p.raw, "**") || strings.ContainsAny(p.raw, "?[{"):
			p.glob = true
		case strings.Contains(p.raw, "*"):
			p.star = true
			parts := strings.SplitN(p.raw, "*", 3)
			p.prefix, p.suffix = parts[0], parts[1]
		default:
			p.prefix = p.raw
			if p.prefix == "." {
				p.prefix = ""
			}
		}
		f.patterns = append(f.patterns, p)
	}
	return f
}

// Excluded reports whether the file at abs matches any pattern. Files outside
// the root are never excluded.
func (f *Filter) Excluded(abs string) bool {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, p := range f.patterns {
		if p.match(rel) {
			return true
		}
	}
	return false
}

func (p pattern) match(rel string) bool {
	switch {
	case p.glob:
		ok, _ := doublestar.Match(p.raw, rel)
		return ok
	case p.star:
		return len(rel) >= len(p.prefix)+len(p.suffix) &&
			strings.HasPrefix(rel, p.prefix) &&
			strings.HasSuffix(rel, p.suffix)
	default:
		return strings.HasPrefix(rel, p.prefix)
	}
}
