// Package config loads a project's build settings from config.json and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FileName is the project configuration file, relative to the project root.
const FileName = "config.json"

// ErrMissing is returned when the project has no configuration file.
var ErrMissing = errors.New("project configuration missing")

const (
	defaultOutputDir    = "build"
	defaultEntry        = "index.html"
	defaultFetchTimeout = 20 * time.Second
)

// Project is the immutable configuration threaded through a build.
type Project struct {
	// Root is the absolute project directory. Every relative locator
	// resolves against it.
	Root    string  `json:"-"`
	Build   Build   `json:"build"`
	Metrics Metrics `json:"-"`
}

// Build is the "build" section of config.json.
type Build struct {
	OutputDir    string   `json:"output_dir"`
	Exclude      []string `json:"exclude"`
	Entry        string   `json:"entry"`
	Compress     []string `json:"compress"`
	MinifyCSS    bool     `json:"minify_css"`
	LockJSON     bool     `json:"lock_json"`
	CacheAssets  bool     `json:"cache_assets"`
	FetchTimeout string   `json:"fetch_timeout"`
	Workers      int      `json:"workers"`
}

// Metrics selects the metrics backend. It is read from the environment only.
type Metrics struct {
	Backend string // "none" | "datadog"
	Tags    string // CSV, e.g. "team:web,service:site"
}

// Load reads <root>/config.json, applies defaults and environment overrides.
// A .env file in root is loaded first; variables already set are kept.
func Load(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	envFile := filepath.Join(abs, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	path := filepath.Join(abs, FileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var p Project
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	p.Root = abs
	p.applyDefaults()
	p.applyEnv()
	return &p, nil
}

func (p *Project) applyDefaults() {
	b := &p.Build
	if strings.TrimSpace(b.OutputDir) == "" {
		b.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(b.Entry) == "" {
		b.Entry = defaultEntry
	}
	// An explicit empty list disables compression.
	if b.Compress == nil {
		b.Compress = []string{"gzip"}
	}
	if strings.TrimSpace(b.FetchTimeout) == "" {
		b.FetchTimeout = defaultFetchTimeout.String()
	}
}

func (p *Project) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SITEPACK_OUTPUT_DIR")); v != "" {
		p.Build.OutputDir = v
	}
	p.Metrics.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("SITEPACK_METRICS_BACKEND")))
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
	p.Metrics.Tags = strings.TrimSpace(os.Getenv("METRICS_TAGS"))
}

// OutputRoot is the absolute output directory.
func (p *Project) OutputRoot() string {
	return filepath.Join(p.Root, filepath.FromSlash(p.Build.OutputDir))
}

// EntryPath is the absolute path of the entry document in the source tree.
func (p *Project) EntryPath() string {
	return filepath.Join(p.Root, filepath.FromSlash(p.Build.Entry))
}

// Timeout returns the per-fetch deadline. An unparsable value falls back to
// the default; Validate reports it.
func (b Build) Timeout() time.Duration {
	d, err := time.ParseDuration(b.FetchTimeout)
	if err != nil || d < 0 {
		return defaultFetchTimeout
	}
	return d
}
