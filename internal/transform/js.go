package transform

import (
	"context"
	"regexp"

	"sitepack/internal/jsonasset"
)

var (
	reJSONImport = regexp.MustCompile(`import_json\(\s*['"]([\w/.\-]*)['"]\s*\)`)
	// An import_json(...) followed by a block is a signature, not a call.
	reBlockAhead = regexp.MustCompile(`^\s*\{`)
	reFuncDecl   = regexp.MustCompile(`\bfunction\s+([\w$]+)`)
)

// JS minifies a script: comments, import_json expansion, dead-function
// elimination with renaming, whitespace. Identical input gives identical
// output.
func (t *Transformer) JS(ctx context.Context, text string) string {
	text = StripComments(text)
	text = t.ExpandJSONImports(ctx, text)
	text = t.EliminateAndRename(text)
	return Collapse(text)
}

// ExpandJSONImports replaces each import_json("path") call with the
// referenced document, image fields inlined, as single-line JSON. A document
// that cannot be loaded becomes null.
func (t *Transformer) ExpandJSONImports(ctx context.Context, text string) string {
	return replaceMatches(reJSONImport, text, func(m []int) (string, bool) {
		if reBlockAhead.MatchString(text[m[1]:]) {
			return "", false
		}
		loc := text[m[2]:m[3]]
		doc, err := t.json.ResolveFile(ctx, loc, t.lockJSON)
		if err != nil {
			t.logger.Warn("unresolved json import", "locator", loc, "error", err)
			return "null", true
		}
		out, err := jsonasset.Minify(doc)
		if err != nil {
			t.logger.Warn("encode json import", "locator", loc, "error", err)
			return "null", true
		}
		return out, true
	})
}

// EliminateAndRename walks the named function declarations in the order they
// appear. A function with no call site is deleted with its body; one that is
// called gets the next Alias, applied to every whole-word occurrence of its
// name. Call sites are counted on the text as rewritten so far, so removing
// a function can leave its callees uncalled in turn. An alias that already
// occurs as a word in the text is skipped.
//
// A declaration whose extent cannot be determined is left untouched.
func (t *Transformer) EliminateAndRename(text string) string {
	renamed := 0
	for _, d := range reFuncDecl.FindAllStringSubmatch(text, -1) {
		name := d[1]
		start, ok := findDeclaration(text, name)
		if !ok {
			// Removed with an enclosing function, or already renamed.
			continue
		}
		end, err := declarationEnd(text, start)
		if err != nil {
			t.logger.Debug("function extent", "name", name, "error", err)
			continue
		}

		if countCalls(text, name) == 0 {
			text = text[:start] + text[end:]
			continue
		}

		alias := Alias(renamed)
		for len(wordIndexes(text, alias)) > 0 {
			renamed++
			alias = Alias(renamed)
		}
		renamed++
		decl := renameDeclaration(text[start:end], name, alias)
		text = text[:start] + decl + text[end:]
		text = replaceWord(text, name, alias)
	}
	return text
}

// Alias returns the compact name for the n-th renamed function: a base-26
// letter sequence ("a".."z", "ba", "bb", ...) followed by the marker "f".
func Alias(n int) string {
	if n < 0 {
		n = 0
	}
	var digits []byte
	if n == 0 {
		digits = append(digits, 'a')
	}
	for n > 0 {
		digits = append(digits, byte('a'+n%26))
		n /= 26
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits) + "f"
}

// findDeclaration returns the offset of the "function" keyword declaring name.
func findDeclaration(s, name string) (int, bool) {
	for _, i := range wordIndexes(s, name) {
		if k, ok := functionKeywordBefore(s, i); ok {
			return k, true
		}
	}
	return 0, false
}

// countCalls counts occurrences of name followed by "(" that are not the
// declaration itself.
func countCalls(s, name string) int {
	n := 0
	for _, i := range wordIndexes(s, name) {
		j := i + len(name)
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		if j >= len(s) || s[j] != '(' {
			continue
		}
		if _, ok := functionKeywordBefore(s, i); ok {
			continue
		}
		n++
	}
	return n
}

// renameDeclaration rewrites "function  name (" to "function alias(".
func renameDeclaration(decl, name, alias string) string {
	re := regexp.MustCompile(`^function\s+` + regexp.QuoteMeta(name) + `\s*\(`)
	return re.ReplaceAllLiteralString(decl, "function "+alias+"(")
}
