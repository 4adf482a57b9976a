package transform

import (
	"errors"
	"regexp"
	"strings"
)

// ErrUnbalanced reports a region whose braces or parentheses never close.
var ErrUnbalanced = errors.New("unbalanced delimiters")

var (
	// Block comments, or a line comment not preceded by '\' or ':' (URLs).
	// The preceding character is captured and put back.
	reComment = regexp.MustCompile(`(?m)/\*[\s\S]*?\*/|([^\\:]|^)//.*$`)
	reSpace   = regexp.MustCompile(`\s+`)
)

// StripComments removes /* */ and // comments from CSS or JS.
func StripComments(s string) string {
	return reComment.ReplaceAllString(s, "${1}")
}

// Collapse drops newlines and folds every whitespace run into one space.
// Collapse(Collapse(s)) == Collapse(s).
func Collapse(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	return reSpace.ReplaceAllString(s, " ")
}

// replaceMatches rebuilds s, offering every match of re (in order) to fn.
// fn receives the submatch index pairs and returns the replacement for the
// whole match, or false to keep it.
func replaceMatches(re *regexp.Regexp, s string, fn func(m []int) (string, bool)) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		repl, ok := fn(m)
		if !ok {
			continue
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(repl)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// group returns the text of the first participating group among idx.
func group(s string, m []int, idx ...int) (string, int, int, bool) {
	for _, g := range idx {
		if 2*g+1 < len(m) && m[2*g] >= 0 {
			return s[m[2*g]:m[2*g+1]], m[2*g], m[2*g+1], true
		}
	}
	return "", -1, -1, false
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// wordIndexes returns the offsets of whole-word occurrences of name.
func wordIndexes(s, name string) []int {
	if name == "" {
		return nil
	}
	var out []int
	for i := 0; i <= len(s)-len(name); {
		j := strings.Index(s[i:], name)
		if j < 0 {
			break
		}
		j += i
		end := j + len(name)
		if (j == 0 || !isIdent(s[j-1])) && (end == len(s) || !isIdent(s[end])) {
			out = append(out, j)
		}
		i = end
	}
	return out
}

// replaceWord replaces every whole-word occurrence of name with repl.
func replaceWord(s, name, repl string) string {
	idx := wordIndexes(s, name)
	if len(idx) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, i := range idx {
		b.WriteString(s[last:i])
		b.WriteString(repl)
		last = i + len(name)
	}
	b.WriteString(s[last:])
	return b.String()
}

// functionKeywordBefore reports whether the identifier at i is directly
// preceded by the "function" keyword and whitespace, returning the keyword
// offset.
func functionKeywordBefore(s string, i int) (int, bool) {
	j := i
	for j > 0 && isSpace(s[j-1]) {
		j--
	}
	if j == i {
		return 0, false
	}
	const kw = "function"
	k := j - len(kw)
	if k < 0 || s[k:j] != kw {
		return 0, false
	}
	if k > 0 && isIdent(s[k-1]) {
		return 0, false
	}
	return k, true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// skipString returns the offset just past the string literal opening at i.
func skipString(s string, i int) (int, error) {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1, nil
		}
	}
	return 0, ErrUnbalanced
}

// matchClose returns the offset just past the delimiter closing the one at
// open, skipping quoted strings.
func matchClose(s string, open int, l, r byte) (int, error) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'', '`':
			end, err := skipString(s, i)
			if err != nil {
				return 0, err
			}
			i = end - 1
		case l:
			depth++
		case r:
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, ErrUnbalanced
}

// declarationEnd bounds a function declaration starting at start: the
// parameter list is matched first so defaults containing braces do not end
// the scan, then the body is matched by brace depth.
func declarationEnd(s string, start int) (int, error) {
	p := strings.IndexByte(s[start:], '(')
	if p < 0 {
		return 0, ErrUnbalanced
	}
	afterParams, err := matchClose(s, start+p, '(', ')')
	if err != nil {
		return 0, err
	}
	b := strings.IndexByte(s[afterParams:], '{')
	if b < 0 {
		return 0, ErrUnbalanced
	}
	return matchClose(s, afterParams+b, '{', '}')
}
