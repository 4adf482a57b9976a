package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sitepack/internal/metrics"
)

var errNoScheme = errors.New("no network scheme")

// Loader resolves locators against a project root, falling back to HTTP.
//
// A Loader holds no per-call state; with a nil cache every Load re-reads and
// re-fetches. It is safe for concurrent use.
type Loader struct {
	root    string
	client  *http.Client
	timeout time.Duration
	cache   *Cache
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache makes the loader consult c before reading or fetching.
func WithCache(c *Cache) Option {
	return func(l *Loader) { l.cache = c }
}

// NewLoader creates a Loader rooted at root. If client is nil,
// http.DefaultClient is used. A non-positive timeout disables the per-fetch
// deadline.
func NewLoader(root string, client *http.Client, timeout time.Duration, opts ...Option) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	l := &Loader{
		root:    root,
		client:  client,
		timeout: timeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Root returns the directory local locators are resolved against.
func (l *Loader) Root() string { return l.root }

// Load resolves loc: a local read first unless loc is a network locator,
// then a network fetch.
func (l *Loader) Load(ctx context.Context, loc string) (Asset, error) {
	loc = strings.TrimSpace(loc)
	if IsRemote(loc) {
		a, err := l.fetch(ctx, normalizeURL(loc))
		if err != nil {
			metrics.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "unresolved"})
			return Asset{}, &LoadError{Locator: loc, Remote: err}
		}
		return a, nil
	}

	a, localErr := l.readLocal(loc)
	if localErr == nil {
		return a, nil
	}
	a, remoteErr := l.fetch(ctx, loc)
	if remoteErr == nil {
		return a, nil
	}
	metrics.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "unresolved"})
	return Asset{}, &LoadError{Locator: loc, Local: localErr, Remote: remoteErr}
}

// LoadFrom resolves loc relative to base when base is a network URL and loc
// is relative. Any other combination is a plain Load.
func (l *Loader) LoadFrom(ctx context.Context, base, loc string) (Asset, error) {
	if base == "" || !IsRemote(base) || IsRemote(loc) {
		return l.Load(ctx, loc)
	}
	b, err := url.Parse(normalizeURL(base))
	if err != nil {
		return l.Load(ctx, loc)
	}
	ref, err := url.Parse(strings.TrimSpace(loc))
	if err != nil {
		return l.Load(ctx, loc)
	}
	return l.Load(ctx, b.ResolveReference(ref).String())
}

// LocalPath maps a project-relative locator to its absolute path.
func (l *Loader) LocalPath(loc string) string {
	return filepath.Join(l.root, filepath.FromSlash(stripQuery(loc)))
}

func (l *Loader) readLocal(loc string) (Asset, error) {
	p := l.LocalPath(loc)
	st, err := os.Stat(p)
	if err != nil {
		return Asset{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if st.IsDir() {
		return Asset{}, fmt.Errorf("%s is a directory", p)
	}
	if a, ok := l.cache.local(p, st); ok {
		metrics.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "cache"})
		return a, nil
	}

	b, err := os.ReadFile(p)
	if err != nil {
		return Asset{}, fmt.Errorf("read %s: %w", p, err)
	}
	a := Asset{
		Locator: p,
		Content: b,
		MIME:    MimeForPath(p),
		Source:  SourceLocal,
	}
	l.cache.putLocal(p, st, a)
	metrics.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "local"})
	return a, nil
}

// fetch performs an HTTP GET. On non-2xx responses the error includes the
// status code and up to 4KB of the body.
func (l *Loader) fetch(ctx context.Context, rawURL string) (Asset, error) {
	if !IsRemote(rawURL) {
		return Asset{}, errNoScheme
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "sitepack/1.0")

	cached, etag, hasCached := l.cache.remote(rawURL)
	if hasCached {
		req.Header.Set("If-None-Match", etag)
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		metrics.ObserveHistogram(metrics.FetchDuration, time.Since(start).Seconds(), metrics.Labels{"status": "error"})
		return Asset{}, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	status := strconv.Itoa(resp.StatusCode)

	if resp.StatusCode == http.StatusNotModified && hasCached {
		metrics.ObserveHistogram(metrics.FetchDuration, time.Since(start).Seconds(), metrics.Labels{"status": status})
		metrics.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "cache"})
		return cached, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.ObserveHistogram(metrics.FetchDuration, time.Since(start).Seconds(), metrics.Labels{"status": status})
		return Asset{}, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Asset{}, fmt.Errorf("read body: %w", err)
	}
	metrics.ObserveHistogram(metrics.FetchDuration, time.Since(start).Seconds(), metrics.Labels{"status": status})

	a := Asset{
		Locator: rawURL,
		Content: b,
		Source:  SourceRemote,
	}
	a.MIME, a.Charset = contentType(resp.Header.Get("Content-Type"), req.URL.Path)
	l.cache.putRemote(rawURL, resp.Header.Get("ETag"), a)
	metrics.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "remote"})
	return a, nil
}

// contentType splits a Content-Type header into media type and charset,
// falling back to the URL path extension when the header is absent or bad.
func contentType(header, urlPath string) (string, string) {
	if strings.TrimSpace(header) != "" {
		mt, params, err := mime.ParseMediaType(header)
		if err == nil && mt != "" {
			return mt, params["charset"]
		}
	}
	return MimeForPath(urlPath), ""
}

func normalizeURL(loc string) string {
	if strings.HasPrefix(loc, "//") {
		return "https:" + loc
	}
	return loc
}
