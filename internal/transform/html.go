package transform

import (
	"context"
	"regexp"
	"strings"

	"sitepack/internal/asset"
)

var (
	reHTMLComment = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reInterTag    = regexp.MustCompile(`>\s+<`)

	reScript    = regexp.MustCompile(`(?i)<script\b[^>]*>([\s\S]*?)</script>`)
	reSrcScript = regexp.MustCompile(`(?i)<script\b[^>]*\ssrc\s*=\s*(?:"([^"]*)"|'([^']*)')[^>]*></script>`)
	reLinkHref  = regexp.MustCompile(`(?i)<link\b[^>]*\shref\s*=\s*(?:"([^"]*)"|'([^']*)')[^>]*>`)
	rePreconn   = regexp.MustCompile(`(?i)<link\b[^>]*\srel\s*=\s*(?:"preconnect"|'preconnect'|preconnect\b)[^>]*>`)
	reImgSrc    = regexp.MustCompile(`(?i)<img\b[^>]*\ssrc\s*=\s*(?:"([^"]*)"|'([^']*)')[^>]*>`)
)

// HTML minifies a page and inlines its scripts, stylesheets and images.
//
// The passes run in a fixed order on one working copy: comments and
// inter-tag whitespace, inline script bodies, external scripts, stylesheet
// links, preconnect links, images, then a final whitespace pass. A reference
// that cannot be resolved is kept as written and logged.
func (t *Transformer) HTML(ctx context.Context, text string) string {
	text = reHTMLComment.ReplaceAllString(text, "")
	text = reInterTag.ReplaceAllString(text, "><")
	text = strings.TrimSpace(text)

	text = t.inlineScriptBodies(ctx, text)
	text = t.inlineScriptSources(ctx, text)
	text = t.inlineStylesheets(ctx, text)
	text = rePreconn.ReplaceAllString(text, "")
	text = t.inlineImages(ctx, text)

	return strings.TrimSpace(Collapse(text))
}

func (t *Transformer) inlineScriptBodies(ctx context.Context, text string) string {
	return replaceMatches(reScript, text, func(m []int) (string, bool) {
		body := text[m[2]:m[3]]
		if strings.TrimSpace(body) == "" {
			return "", false
		}
		return text[m[0]:m[2]] + t.JS(ctx, body) + text[m[3]:m[1]], true
	})
}

func (t *Transformer) inlineScriptSources(ctx context.Context, text string) string {
	return replaceMatches(reSrcScript, text, func(m []int) (string, bool) {
		loc, vs, ve, _ := group(text, m, 1, 2)
		if asset.IsInline(loc) {
			return "", false
		}
		a, err := t.loader.Load(ctx, loc)
		if err != nil {
			t.logger.Warn("unresolved script", "locator", loc, "error", err)
			return "", false
		}
		js := t.JS(ctx, a.Text())
		uri := asset.EncodeDataURI([]byte(js), "text/javascript")
		return text[m[0]:vs] + uri + text[ve:m[1]], true
	})
}

func (t *Transformer) inlineStylesheets(ctx context.Context, text string) string {
	return replaceMatches(reLinkHref, text, func(m []int) (string, bool) {
		if !strings.Contains(strings.ToLower(text[m[0]:m[1]]), "stylesheet") {
			return "", false
		}
		loc, vs, ve, _ := group(text, m, 1, 2)
		if asset.IsInline(loc) {
			return "", false
		}
		a, err := t.loader.Load(ctx, loc)
		if err != nil {
			t.logger.Warn("unresolved stylesheet", "locator", loc, "error", err)
			return "", false
		}
		base := ""
		if a.Source == asset.SourceRemote {
			base = a.Locator
		}
		css := t.CSSFrom(ctx, base, a.Text())
		uri := asset.EncodeDataURI([]byte(css), "text/css")
		return text[m[0]:vs] + uri + text[ve:m[1]], true
	})
}

func (t *Transformer) inlineImages(ctx context.Context, text string) string {
	return replaceMatches(reImgSrc, text, func(m []int) (string, bool) {
		loc, vs, ve, _ := group(text, m, 1, 2)
		if asset.IsInline(loc) {
			return "", false
		}
		a, err := t.loader.Load(ctx, loc)
		if err != nil {
			t.logger.Warn("unresolved image", "locator", loc, "error", err)
			return "", false
		}
		return text[m[0]:vs] + a.DataURI() + text[ve:m[1]], true
	})
}
