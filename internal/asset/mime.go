package asset

import (
	"encoding/base64"
	"path"
	"strings"
)

// DefaultMIME is returned for extensions outside the known table.
const DefaultMIME = "text/plain"

var mimeByExt = map[string]string{
	"css":   "text/css",
	"js":    "text/javascript",
	"html":  "text/html",
	"json":  "application/json",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
	"ico":   "image/x-icon",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"eot":   "font/eot",
	"otf":   "font/otf",
}

// MimeFor maps a file extension (with or without the leading dot) to a MIME
// type. The lookup is total: unknown extensions yield DefaultMIME.
func MimeFor(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return DefaultMIME
}

// MimeForPath is MimeFor applied to the extension of p. Query strings and
// fragments are ignored so "logo.png?v=3" maps to image/png.
func MimeForPath(p string) string {
	return MimeFor(path.Ext(stripQuery(p)))
}

// EncodeDataURI wraps b as "data:<mime>;base64,<payload>".
func EncodeDataURI(b []byte, mime string) string {
	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(b)))
	sb.WriteString("data:")
	sb.WriteString(mime)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(b))
	return sb.String()
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}
