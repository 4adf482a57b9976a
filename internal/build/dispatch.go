package build

import (
	"path/filepath"
	"strings"

	"sitepack/internal/config"
)

// Kind is the route a file takes through the build.
type Kind int

const (
	// KindCopy files are written byte-for-byte.
	KindCopy Kind = iota
	KindHTML
	KindJS
	// KindCSS is only routed when build.minify_css is set. Otherwise
	// stylesheets are copied and minified only when an HTML page links them.
	KindCSS
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindJS:
		return "js"
	case KindCSS:
		return "css"
	default:
		return "copy"
	}
}

// KindOf maps a file's extension to its route.
func KindOf(path string, b config.Build) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return KindHTML
	case ".js":
		return KindJS
	case ".css":
		if b.MinifyCSS {
			return KindCSS
		}
	}
	return KindCopy
}
