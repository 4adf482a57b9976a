// Package build turns a project's source tree into a minified, self-contained
// output tree.
//
// A build discovers every file under the project root, drops the excluded
// ones, routes each by extension (HTML and JS are transformed, everything
// else is copied) and mirrors the result under the output directory. Files
// build concurrently; a failure is recorded against its file and never stops
// the others.
package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sitepack/internal/asset"
	"sitepack/internal/config"
	"sitepack/internal/inspect"
	"sitepack/internal/jsonasset"
	"sitepack/internal/metrics"
	"sitepack/internal/transform"
)

// assetCacheSize bounds the optional asset cache (entries, not bytes).
const assetCacheSize = 512

// Result describes one built file.
type Result struct {
	Path     string // source, absolute
	Out      string // output, absolute
	Kind     Kind
	InBytes  int
	OutBytes int
	Duration time.Duration
}

// Failure is a file whose build failed.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Path, f.Err) }

// Report summarizes BuildAll.
type Report struct {
	Built    []Result
	Failed   []Failure
	Duration time.Duration
	Entry    []Compressed
}

// OK reports whether every file built.
func (r Report) OK() bool { return len(r.Failed) == 0 }

// Builder builds the files of one project.
type Builder struct {
	project *config.Project
	filter  *Filter
	writer  *Writer
	tr      *transform.Transformer
	logger  *slog.Logger
	workers int
}

// Option configures a Builder.
type Option func(*options)

type options struct {
	client *http.Client
}

// WithHTTPClient sets the client used for remote asset fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// New wires a Builder for p. A nil logger discards output.
func New(p *config.Project, logger *slog.Logger, opts ...Option) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	var loaderOpts []asset.Option
	if p.Build.CacheAssets {
		cache, err := asset.NewCache(assetCacheSize)
		if err != nil {
			logger.Warn("asset cache disabled", "error", err)
		} else {
			loaderOpts = append(loaderOpts, asset.WithCache(cache))
		}
	}
	loader := asset.NewLoader(p.Root, o.client, p.Build.Timeout(), loaderOpts...)

	writer := NewWriter(p.Root, p.OutputRoot())
	resolver := jsonasset.NewResolver(loader, logger, jsonasset.WithPersister(writer))
	tr := transform.New(loader, resolver, logger, transform.WithJSONLocks(p.Build.LockJSON))

	workers := p.Build.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Builder{
		project: p,
		filter:  NewFilter(p.Root, p.Build.Exclude),
		writer:  writer,
		tr:      tr,
		logger:  logger.With("component", "build"),
		workers: workers,
	}
}

// Root is the project root the builder reads from.
func (b *Builder) Root() string { return b.project.Root }

// skipped are the paths never built: the output tree, VCS metadata and the
// project's .env.
func (b *Builder) skipped() []string {
	return []string{
		b.project.OutputRoot(),
		filepath.Join(b.project.Root, ".git"),
		filepath.Join(b.project.Root, ".env"),
	}
}

// Excluded reports whether path is left out of the build.
func (b *Builder) Excluded(path string) bool {
	for _, s := range b.skipped() {
		if path == s || isWithin(s, path) {
			return true
		}
	}
	return b.filter.Excluded(path)
}

// Files lists the project files that take part in a build.
func (b *Builder) Files() ([]string, error) {
	all, err := Discover(b.project.Root, b.skipped()...)
	if err != nil {
		return nil, err
	}
	files := all[:0]
	for _, f := range all {
		if !b.filter.Excluded(f) {
			files = append(files, f)
		}
	}
	return files, nil
}

// Run builds the whole project: discovery, every file, then the entry
// compression and size report. The error is only for failures outside any
// single file; per-file failures are in the Report.
func (b *Builder) Run(ctx context.Context) (Report, error) {
	files, err := b.Files()
	if err != nil {
		return Report{}, err
	}
	rep := b.BuildAll(ctx, files)

	entry := b.project.EntryPath()
	if !b.entryBuilt(rep, entry) {
		b.logger.Warn("entry not built; skipping compression", "path", entry)
	} else if out, err := b.writer.OutputPath(entry); err == nil {
		siblings, err := CompressEntry(out, b.project.Build.Compress)
		rep.Entry = siblings
		if err != nil {
			rep.Failed = append(rep.Failed, Failure{Path: out, Err: err})
			b.logger.Error("compress entry", "path", out, "error", err)
		}
		if st, err := os.Stat(out); err == nil {
			logSizes(b.logger, out, st.Size(), siblings)
		}
	}

	b.logger.Info("build finished",
		"files", len(rep.Built),
		"failed", len(rep.Failed),
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return rep, nil
}

func (b *Builder) entryBuilt(rep Report, entry string) bool {
	for _, r := range rep.Built {
		if r.Path == entry {
			return true
		}
	}
	return false
}

// BuildAll builds files with at most the configured number of workers.
// Every file is attempted even when some fail or ctx is cancelled midway;
// files not started before cancellation are reported as failed.
func (b *Builder) BuildAll(ctx context.Context, files []string) Report {
	start := time.Now()

	var (
		mu  sync.Mutex
		rep Report
	)
	var g errgroup.Group
	g.SetLimit(b.workers)
	for _, f := range files {
		g.Go(func() error {
			res, err := b.BuildFile(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed = append(rep.Failed, Failure{Path: f, Err: err})
				return nil
			}
			rep.Built = append(rep.Built, res)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.Built, func(i, j int) bool { return rep.Built[i].Path < rep.Built[j].Path })
	sort.Slice(rep.Failed, func(i, j int) bool { return rep.Failed[i].Path < rep.Failed[j].Path })
	rep.Duration = time.Since(start)
	return rep
}

// BuildFile reads, transforms and writes one source file.
func (b *Builder) BuildFile(ctx context.Context, path string) (res Result, err error) {
	start := time.Now()
	kind := KindOf(path, b.project.Build)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
		status := "ok"
		if err != nil {
			status = "error"
			b.logger.Error("build file", "path", path, "error", err)
		}
		labels := metrics.Labels{"kind": kind.String(), "status": status}
		metrics.IncCounter(metrics.FilesTotal, 1, labels)
		metrics.ObserveHistogram(metrics.FileDuration, time.Since(start).Seconds(), labels)
	}()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read: %w", err)
	}

	content := src
	switch kind {
	case KindHTML:
		html := b.tr.HTML(ctx, string(src))
		b.reportUnresolved(path, html)
		content = []byte(html)
	case KindJS:
		content = []byte(b.tr.JS(ctx, string(src)))
	case KindCSS:
		content = []byte(b.tr.CSS(ctx, string(src)))
	}

	out, err := b.writer.Write(path, content)
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveHistogram(metrics.OutputBytes, float64(len(content)), metrics.Labels{"kind": kind.String()})

	res = Result{
		Path:     path,
		Out:      out,
		Kind:     kind,
		InBytes:  len(src),
		OutBytes: len(content),
		Duration: time.Since(start),
	}
	b.logger.Debug("built", "path", path, "kind", kind.String(), "in", res.InBytes, "out", res.OutBytes)
	return res, nil
}

// reportUnresolved logs every reference the HTML transform left pointing
// outside the page.
func (b *Builder) reportUnresolved(path, html string) {
	refs, err := inspect.Unresolved(html)
	if err != nil {
		b.logger.Debug("inspect output", "path", path, "error", err)
		return
	}
	for _, r := range refs {
		b.logger.Warn("reference left external", "path", path, "ref", r.String())
	}
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
