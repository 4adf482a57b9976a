// Package jsonasset inlines image references found in JSON documents.
//
// A field is image-bearing when its name is in a fixed vocabulary (logo,
// image, icon, cover, icons, avatar, socials). String values of such fields
// are replaced by data URIs; object values have each of their string members
// replaced. A 2-D table (an array whose first row is all strings) is treated
// as a header row plus data rows, and every cell under an image-bearing
// header is replaced. Other arrays are left alone. Plain objects are walked
// recursively. Members are visited in document order.
package jsonasset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"sitepack/internal/asset"
)

var imageFields = map[string]struct{}{
	"logo":    {},
	"image":   {},
	"icon":    {},
	"cover":   {},
	"icons":   {},
	"avatar":  {},
	"socials": {},
}

// IsImageField reports whether name is in the image vocabulary.
func IsImageField(name string) bool {
	_, ok := imageFields[name]
	return ok
}

// Loader is the part of asset.Loader the resolver needs.
type Loader interface {
	Load(ctx context.Context, loc string) (asset.Asset, error)
}

// Persister stores a resolved "lock" copy of a document.
type Persister interface {
	Persist(rel string, content []byte) error
}

// Resolver replaces image references with data URIs.
type Resolver struct {
	loader Loader
	locks  Persister
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPersister enables ResolveFile's persist flag.
func WithPersister(p Persister) Option {
	return func(r *Resolver) { r.locks = p }
}

// NewResolver creates a Resolver. A nil logger discards diagnostics.
func NewResolver(loader Loader, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Resolver{
		loader: loader,
		logger: logger.With("component", "jsonasset"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve inlines image references in doc and returns it. doc is modified in
// place. A string doc is parsed as JSON first; that parse is the only error.
// Plain map[string]any objects are accepted and walked in sorted key order.
func (r *Resolver) Resolve(ctx context.Context, doc any) (any, error) {
	if s, ok := doc.(string); ok {
		return r.ResolveBytes(ctx, []byte(s))
	}
	if obj, ok := asObject(doc); ok {
		r.resolveObject(ctx, obj)
	}
	return doc, nil
}

// ResolveBytes parses b as JSON and resolves it.
func (r *Resolver) ResolveBytes(ctx context.Context, b []byte) (any, error) {
	doc, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, doc)
}

// ResolveFile loads the JSON document at loc, appending ".json" when loc has
// no such suffix, and resolves it. With persist set and a Persister
// configured, the minified result is stored as loc+".lock". A lock that
// cannot be stored is logged and the document is still returned.
func (r *Resolver) ResolveFile(ctx context.Context, loc string, persist bool) (any, error) {
	src := loc
	if !strings.HasSuffix(src, ".json") {
		src += ".json"
	}
	a, err := r.loader.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("json %q: %w", loc, err)
	}
	doc, err := r.ResolveBytes(ctx, []byte(a.Text()))
	if err != nil {
		return nil, fmt.Errorf("json %q: %w", loc, err)
	}
	if persist && r.locks != nil {
		if err := r.persist(loc+".lock", doc); err != nil {
			r.logger.Warn("persist json lock", "locator", loc, "error", err)
		}
	}
	return doc, nil
}

func (r *Resolver) persist(rel string, doc any) error {
	out, err := Minify(doc)
	if err != nil {
		return err
	}
	if err := r.locks.Persist(rel, []byte(out)); err != nil {
		return fmt.Errorf("persist %q: %w", rel, err)
	}
	return nil
}

func (r *Resolver) resolveObject(ctx context.Context, obj *Object) {
	for _, key := range obj.Keys() {
		val, _ := obj.Get(key)

		if rows, ok := table(val); ok {
			r.resolveTable(ctx, rows)
			continue
		}

		if s, ok := val.(string); ok {
			if IsImageField(key) {
				obj.Set(key, r.inline(ctx, s))
			}
			continue
		}
		v, ok := asObject(val)
		if !ok {
			continue
		}
		if IsImageField(key) {
			for _, k := range v.Keys() {
				if s, ok := v.vals[k].(string); ok {
					v.Set(k, r.inline(ctx, s))
				}
			}
			continue
		}
		r.resolveObject(ctx, v)
	}
}

func (r *Resolver) resolveTable(ctx context.Context, rows []any) {
	header := rows[0].([]any)
	var cols []int
	for i, h := range header {
		if IsImageField(h.(string)) {
			cols = append(cols, i)
		}
	}
	if len(cols) == 0 {
		return
	}
	for _, raw := range rows[1:] {
		row, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, i := range cols {
			if i >= len(row) {
				continue
			}
			if cell, ok := row[i].(string); ok {
				row[i] = r.inline(ctx, cell)
			}
		}
	}
}

// inline returns the data URI for loc, nil when loc is empty or cannot be
// loaded. Values that are already data URIs are kept.
func (r *Resolver) inline(ctx context.Context, loc string) any {
	if strings.TrimSpace(loc) == "" {
		return nil
	}
	if asset.IsInline(loc) {
		return loc
	}
	a, err := r.loader.Load(ctx, loc)
	if err != nil {
		r.logger.Warn("image not found", "locator", loc, "error", err)
		return nil
	}
	return a.DataURI()
}

// table reports whether v is a 2-D list whose first row is all strings.
func table(v any) ([]any, bool) {
	rows, ok := v.([]any)
	if !ok || len(rows) == 0 {
		return nil, false
	}
	header, ok := rows[0].([]any)
	if !ok {
		return nil, false
	}
	for _, h := range header {
		if _, ok := h.(string); !ok {
			return nil, false
		}
	}
	return rows, true
}

// Parse decodes b keeping numbers as json.Number so they re-encode verbatim.
// Objects decode to *Object so member order survives a round trip.
func Parse(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	doc, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return doc, nil
}

// Minify encodes doc as single-line JSON without HTML escaping.
func Minify(doc any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
