// Package asset loads the resources a page references and encodes them as
// data URIs.
//
// A locator is either a network URL (http, https or protocol-relative) or a
// path relative to the project root. Local paths are read first; when the
// file is missing the locator is tried over the network, and when that fails
// too the caller gets a *LoadError that matches ErrNotFound.
package asset

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// ErrNotFound reports that a locator could be resolved neither locally nor
// remotely.
var ErrNotFound = errors.New("asset not found")

// Source says where an asset's bytes came from.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Asset is a loaded resource.
type Asset struct {
	// Locator is the resolved location: an absolute path or a URL.
	Locator string
	Content []byte
	// MIME is derived from the file extension (local) or the response
	// Content-Type (remote), without parameters.
	MIME string
	// Charset is the Content-Type charset parameter of a remote response.
	Charset string
	Source  Source
}

// DataURI encodes the asset with its own MIME type.
func (a Asset) DataURI() string {
	return EncodeDataURI(a.Content, a.MIME)
}

// Text returns the content as a UTF-8 string, decoding it first when a
// non-UTF-8 charset was announced. Unknown charsets fall back to the raw bytes.
func (a Asset) Text() string {
	cs := strings.ToLower(strings.TrimSpace(a.Charset))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return string(a.Content)
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return string(a.Content)
	}
	b, err := enc.NewDecoder().Bytes(a.Content)
	if err != nil {
		return string(a.Content)
	}
	return string(b)
}

// LoadError is returned when both resolution steps failed. Local is nil for
// network locators, which are never read from disk.
type LoadError struct {
	Locator string
	Local   error
	Remote  error
}

func (e *LoadError) Error() string {
	switch {
	case e.Local != nil && e.Remote != nil:
		return fmt.Sprintf("load %q: local: %v; remote: %v", e.Locator, e.Local, e.Remote)
	case e.Remote != nil:
		return fmt.Sprintf("load %q: %v", e.Locator, e.Remote)
	case e.Local != nil:
		return fmt.Sprintf("load %q: %v", e.Locator, e.Local)
	default:
		return fmt.Sprintf("load %q: not found", e.Locator)
	}
}

func (e *LoadError) Unwrap() []error {
	errs := []error{ErrNotFound}
	if e.Local != nil {
		errs = append(errs, e.Local)
	}
	if e.Remote != nil {
		errs = append(errs, e.Remote)
	}
	return errs
}

// IsRemote reports whether loc carries a network scheme.
func IsRemote(loc string) bool {
	l := strings.ToLower(strings.TrimSpace(loc))
	return strings.HasPrefix(l, "http://") ||
		strings.HasPrefix(l, "https://") ||
		strings.HasPrefix(l, "//")
}

// IsInline reports whether loc needs no resolution at all: empty values,
// data URIs and same-document fragments.
func IsInline(loc string) bool {
	l := strings.ToLower(strings.TrimSpace(loc))
	return l == "" || strings.HasPrefix(l, "data:") || strings.HasPrefix(l, "#")
}
