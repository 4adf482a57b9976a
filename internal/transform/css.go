package transform

import (
	"context"
	"regexp"
	"strings"

	"sitepack/internal/asset"
)

var reCSSURL = regexp.MustCompile(`url\(\s*['"]?([^'")]*?)['"]?\s*\)`)

// CSS minifies a stylesheet whose relative references resolve against the
// project root.
func (t *Transformer) CSS(ctx context.Context, text string) string {
	return t.CSSFrom(ctx, "", text)
}

// CSSFrom minifies a stylesheet. Comments go first so commented-out
// references are never fetched; every url(...) is then replaced by a data URI
// and whitespace is collapsed. When base is a network URL, relative
// references resolve against it. A reference that cannot be loaded is kept
// as written.
func (t *Transformer) CSSFrom(ctx context.Context, base, text string) string {
	text = StripComments(text)
	text = replaceMatches(reCSSURL, text, func(m []int) (string, bool) {
		loc := strings.TrimSpace(text[m[2]:m[3]])
		if asset.IsInline(loc) {
			return "", false
		}
		a, err := t.loader.LoadFrom(ctx, base, loc)
		if err != nil {
			t.logger.Warn("unresolved css url", "locator", loc, "error", err)
			return "", false
		}
		return "url(" + a.DataURI() + ")", true
	})
	return Collapse(text)
}
