package build

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"sitepack/internal/config"
)

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(b)
}

func testProject(root string, b config.Build) *config.Project {
	if b.OutputDir == "" {
		b.OutputDir = "build"
	}
	if b.Entry == "" {
		b.Entry = "index.html"
	}
	if b.FetchTimeout == "" {
		b.FetchTimeout = "1s"
	}
	return &config.Project{Root: root, Build: b, Metrics: config.Metrics{Backend: "none"}}
}

func rels(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

// TestDiscover verifies regular files are listed in order and skipped
// directories are not descended into.
func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, rel := range []string{"b.js", "a/index.html", "a/z.css", "build/old.html", "build/x/y.js"} {
		writeTestFile(t, root, rel, "x")
	}

	files, err := Discover(root, filepath.Join(root, "build"))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := strings.Join(rels(t, root, files), ",")
	if want := "a/index.html,a/z.css,b.js"; got != want {
		t.Fatalf("Discover=%q, want %q", got, want)
	}

	if _, err := Discover(filepath.Join(root, "missing")); err == nil {
		t.Fatalf("expected error for missing root")
	}
}

// TestFilter_Excluded covers literal prefixes, prefix+suffix stars and
// doublestar globs. A trailing slash on a literal limits it to that directory.
func TestFilter_Excluded(t *testing.T) {
	t.Parallel()

	root := filepath.FromSlash("/project")
	f := NewFilter(root, []string{"assets/*.tmp", "drafts", "./notes/", "**/*.map", "img/icon-?.png"})

	tests := []struct {
		rel  string
		want bool
	}{
		{"assets/a.tmp", true},
		{"assets/deep/b.tmp", true},
		{"assets/a.tmp.keep", false},
		{"other/assets/a.tmp", false},
		{"drafts/post.html", true},
		{"drafts.html", true},
		{"notes/todo.txt", true},
		{"notes.md", false},
		{"notesX/a.txt", false},
		{"js/app.js.map", true},
		{"app.js.map", true},
		{"img/icon-1.png", true},
		{"img/icon-12.png", false},
		{"index.html", false},
	}
	for _, tc := range tests {
		p := filepath.Join(root, filepath.FromSlash(tc.rel))
		if got := f.Excluded(p); got != tc.want {
			t.Errorf("Excluded(%q)=%v, want %v", tc.rel, got, tc.want)
		}
	}

	if f.Excluded(filepath.FromSlash("/elsewhere/drafts/x")) {
		t.Fatalf("file outside root excluded")
	}
	if NewFilter(root, []string{"a*a"}).Excluded(filepath.Join(root, "a")) {
		t.Fatalf("prefix and suffix must not overlap")
	}
}

// TestKindOf verifies the extension routes and the opt-in CSS route.
func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path      string
		minifyCSS bool
		want      Kind
	}{
		{"index.html", false, KindHTML},
		{"INDEX.HTML", false, KindHTML},
		{"js/app.js", false, KindJS},
		{"style.css", false, KindCopy},
		{"style.css", true, KindCSS},
		{"data/site.json", false, KindCopy},
		{"logo.png", true, KindCopy},
		{"Makefile", false, KindCopy},
	}
	for _, tc := range tests {
		got := KindOf(tc.path, config.Build{MinifyCSS: tc.minifyCSS})
		if got != tc.want {
			t.Errorf("KindOf(%q, minify_css=%v)=%v, want %v", tc.path, tc.minifyCSS, got, tc.want)
		}
	}
}

// TestWriter verifies the output mirrors the source layout and that Persist
// refuses paths that leave the output root.
func TestWriter(t *testing.T) {
	t.Parallel()

	src, out := t.TempDir(), t.TempDir()
	w := NewWriter(src, out)

	got, err := w.Write(filepath.Join(src, "a", "b", "c.js"), []byte("x"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := filepath.Join(out, "a", "b", "c.js"); got != want {
		t.Fatalf("Write path=%q, want %q", got, want)
	}
	if readFile(t, got) != "x" {
		t.Fatalf("unexpected content")
	}

	if err := w.Persist("data/site.lock", []byte("{}")); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if readFile(t, filepath.Join(out, "data", "site.lock")) != "{}" {
		t.Fatalf("unexpected lock content")
	}
	if err := w.Persist("../escape.lock", []byte("{}")); err == nil {
		t.Fatalf("expected error for escaping path")
	}
}

// TestCompressEntry verifies both siblings decompress to the original.
func TestCompressEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := strings.Repeat("<p>hello</p>", 200)
	entry := writeTestFile(t, dir, "index.html", body)

	got, err := CompressEntry(entry, []string{"gzip", "br"})
	if err != nil {
		t.Fatalf("CompressEntry: %v", err)
	}
	if len(got) != 2 || got[0].Path != entry+".gz" || got[1].Path != entry+".br" {
		t.Fatalf("unexpected siblings: %+v", got)
	}

	gz, err := os.ReadFile(entry + ".gz")
	if err != nil {
		t.Fatal(err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil || string(plain) != body {
		t.Fatalf("gzip round trip failed: %v", err)
	}

	br, err := os.ReadFile(entry + ".br")
	if err != nil {
		t.Fatal(err)
	}
	plain, err = io.ReadAll(brotli.NewReader(bytes.NewReader(br)))
	if err != nil || string(plain) != body {
		t.Fatalf("brotli round trip failed: %v", err)
	}
	if got[0].Size >= int64(len(body)) {
		t.Fatalf("gzip did not shrink the entry: %d", got[0].Size)
	}

	if _, err := CompressEntry(entry, []string{"zstd"}); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
}

// TestBuildAll_FailureIsContained verifies a failing file is reported while
// its siblings still build.
func TestBuildAll_FailureIsContained(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ok1 := writeTestFile(t, root, "a.js", "function f(){return 1;} f();")
	ok2 := writeTestFile(t, root, "b.txt", "plain")
	missing := filepath.Join(root, "gone.js")

	b := New(testProject(root, config.Build{Workers: 2}), nil)
	rep := b.BuildAll(context.Background(), []string{ok1, missing, ok2})

	if rep.OK() || len(rep.Failed) != 1 || rep.Failed[0].Path != missing {
		t.Fatalf("unexpected failures: %+v", rep.Failed)
	}
	if !errors.Is(rep.Failed[0].Err, os.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", rep.Failed[0].Err)
	}
	if len(rep.Built) != 2 || rep.Built[0].Path != ok1 || rep.Built[1].Path != ok2 {
		t.Fatalf("unexpected built: %+v", rep.Built)
	}
	if got := readFile(t, filepath.Join(root, "build", "a.js")); got != "function af(){return 1;} af();" {
		t.Fatalf("unexpected js output: %q", got)
	}
}

// TestRun_Project builds a small project end to end: exclusion, HTML
// inlining, JS minification, byte-for-byte copies, JSON locks and the
// compressed entry.
func TestRun_Project(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	css := "body {\n  color: red;\n}\n"
	writeTestFile(t, root, "index.html", "<html>\n<head>\n<link rel=\"stylesheet\" href=\"style.css\">\n</head>\n<body><p>hi</p></body>\n</html>\n")
	writeTestFile(t, root, "style.css", css)
	writeTestFile(t, root, "js/app.js", "var s = import_json(\"data/site\");\nfunction unused(){}\n")
	writeTestFile(t, root, "data/site.json", `{"name":"demo"}`)
	writeTestFile(t, root, "assets/scratch.tmp", "tmp")
	writeTestFile(t, root, "assets/keep.txt", "keep")
	writeTestFile(t, root, ".env", "SECRET=1")
	writeTestFile(t, root, "build/stale.txt", "old")

	b := New(testProject(root, config.Build{
		Exclude:  []string{"assets/*.tmp"},
		Compress: []string{"gzip"},
		LockJSON: true,
	}), nil)

	rep, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.OK() {
		t.Fatalf("unexpected failures: %+v", rep.Failed)
	}

	built := map[string]bool{}
	for _, r := range rep.Built {
		built[filepath.ToSlash(mustRel(t, root, r.Path))] = true
	}
	for _, want := range []string{"index.html", "style.css", "js/app.js", "data/site.json", "assets/keep.txt"} {
		if !built[want] {
			t.Errorf("%s not built; built=%v", want, built)
		}
	}
	for _, never := range []string{"assets/scratch.tmp", ".env", "build/stale.txt"} {
		if built[never] {
			t.Errorf("%s should not be built", never)
		}
	}

	out := filepath.Join(root, "build")
	if _, err := os.Stat(filepath.Join(out, "assets", "scratch.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("excluded file written: %v", err)
	}
	if got := readFile(t, filepath.Join(out, "style.css")); got != css {
		t.Fatalf("stylesheet not copied byte-for-byte: %q", got)
	}
	if got := readFile(t, filepath.Join(out, "js", "app.js")); got != `var s = {"name":"demo"};` {
		t.Fatalf("unexpected js output: %q", got)
	}
	if got := readFile(t, filepath.Join(out, "data", "site.lock")); got != `{"name":"demo"}` {
		t.Fatalf("unexpected lock: %q", got)
	}

	html := readFile(t, filepath.Join(out, "index.html"))
	if strings.Contains(html, "\n") || !strings.Contains(html, `href="data:text/css;base64,`) {
		t.Fatalf("unexpected html output: %q", html)
	}
	if len(rep.Entry) != 1 || rep.Entry[0].Path != filepath.Join(out, "index.html.gz") {
		t.Fatalf("entry not compressed: %+v", rep.Entry)
	}
}

// TestBuilder_Excluded verifies the output tree and .env are always excluded
// on top of the configured patterns.
func TestBuilder_Excluded(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	b := New(testProject(root, config.Build{Exclude: []string{"drafts"}}), nil)

	tests := map[string]bool{
		"index.html":     false,
		"build/a.html":   true,
		"buildings.html": false,
		".env":           true,
		".git/HEAD":      true,
		"drafts/a.html":  true,
		"js/main.js":     false,
	}
	for rel, want := range tests {
		if got := b.Excluded(filepath.Join(root, filepath.FromSlash(rel))); got != want {
			t.Errorf("Excluded(%q)=%v, want %v", rel, got, want)
		}
	}
}

func mustRel(t *testing.T, root, p string) string {
	t.Helper()
	r, err := filepath.Rel(root, p)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
