// Package inspect lists the external references of an HTML document. It is
// used to report what a build left un-inlined and by the "refs" command.
package inspect

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sitepack/internal/asset"
)

// Ref is one referencing attribute.
type Ref struct {
	Tag   string // script, link or img
	Attr  string // src or href
	Value string
}

// Inline reports whether the reference needs no fetch (data URI, fragment or
// empty).
func (r Ref) Inline() bool { return asset.IsInline(r.Value) }

func (r Ref) String() string {
	v := r.Value
	if strings.HasPrefix(v, "data:") {
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i+1] + "..."
		}
	}
	return fmt.Sprintf("<%s %s=%q>", r.Tag, r.Attr, v)
}

var selectors = []struct {
	sel  string
	attr string
}{
	{"script[src]", "src"},
	{`link[rel~="stylesheet"][href]`, "href"},
	{"img[src]", "src"},
}

// References returns every script src, stylesheet href and image src in
// document order per tag kind.
func References(html string) ([]Ref, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var refs []Ref
	for _, s := range selectors {
		doc.Find(s.sel).Each(func(_ int, sel *goquery.Selection) {
			v, _ := sel.Attr(s.attr)
			refs = append(refs, Ref{
				Tag:   goquery.NodeName(sel),
				Attr:  s.attr,
				Value: strings.TrimSpace(v),
			})
		})
	}
	return refs, nil
}

// Unresolved returns the references that still point outside the document.
func Unresolved(html string) ([]Ref, error) {
	refs, err := References(html)
	if err != nil {
		return nil, err
	}
	out := refs[:0]
	for _, r := range refs {
		if !r.Inline() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Print writes one reference per line, marking whether each is inlined.
func Print(w io.Writer, refs []Ref) {
	for _, r := range refs {
		state := "external"
		if r.Inline() {
			state = "inline"
		}
		fmt.Fprintf(w, "%-8s %s\n", state, r)
	}
}
