// Package transform minifies HTML, JavaScript and CSS and inlines what they
// reference.
//
// The transforms scan text instead of parsing it. Comment stripping is a
// single regular expression that does not know about string literals, so a
// comment marker inside a string is removed too. Function bodies are bounded
// by brace depth; quoted strings are skipped while counting, regex literals
// are not.
//
// Within one document every substitution happens in document order on a
// single working copy. A Transformer itself holds no per-document state and
// may be shared by concurrent builds.
package transform

import (
	"context"
	"io"
	"log/slog"

	"sitepack/internal/asset"
)

// AssetLoader resolves locators to content.
type AssetLoader interface {
	Load(ctx context.Context, loc string) (asset.Asset, error)
	LoadFrom(ctx context.Context, base, loc string) (asset.Asset, error)
}

// JSONResolver loads a JSON document with its image fields inlined.
type JSONResolver interface {
	ResolveFile(ctx context.Context, loc string, persist bool) (any, error)
}

// Transformer holds the collaborators shared by the CSS, JS and HTML
// transforms.
type Transformer struct {
	loader   AssetLoader
	json     JSONResolver
	lockJSON bool
	logger   *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithJSONLocks makes import_json expansions persist a ".lock" copy.
func WithJSONLocks(enabled bool) Option {
	return func(t *Transformer) { t.lockJSON = enabled }
}

// New creates a Transformer. A nil logger discards diagnostics.
func New(loader AssetLoader, json JSONResolver, logger *slog.Logger, opts ...Option) *Transformer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &Transformer{
		loader: loader,
		json:   json,
		logger: logger.With("component", "transform"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}
