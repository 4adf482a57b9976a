package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Severity grades a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found by Validate.
type Issue struct {
	Severity Severity
	Path     string // JSON path, e.g. "build.compress[1]"
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks a loaded project. Warnings do not stop a build.
func Validate(p *Project) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}
	b := p.Build

	switch od := filepath.FromSlash(b.OutputDir); {
	case filepath.IsAbs(od):
		add(SeverityError, "build.output_dir", "must be relative to the project root, got %q", b.OutputDir)
	case filepath.Clean(od) == ".":
		add(SeverityError, "build.output_dir", "must not be the project root")
	case escapes(od):
		add(SeverityError, "build.output_dir", "escapes the project root: %q", b.OutputDir)
	}

	if filepath.IsAbs(filepath.FromSlash(b.Entry)) {
		add(SeverityError, "build.entry", "must be relative to the project root, got %q", b.Entry)
	}

	for i, c := range b.Compress {
		switch c {
		case "gzip", "br":
		default:
			add(SeverityError, fmt.Sprintf("build.compress[%d]", i), "unknown algorithm %q (want gzip or br)", c)
		}
	}

	if d, err := time.ParseDuration(b.FetchTimeout); err != nil {
		add(SeverityError, "build.fetch_timeout", "invalid duration %q", b.FetchTimeout)
	} else if d < 0 {
		add(SeverityError, "build.fetch_timeout", "must not be negative")
	}

	if b.Workers < 0 {
		add(SeverityError, "build.workers", "must be >= 0, got %d", b.Workers)
	}

	for i, pat := range b.Exclude {
		path := fmt.Sprintf("build.exclude[%d]", i)
		switch {
		case strings.TrimSpace(pat) == "":
			add(SeverityWarning, path, "empty pattern matches every file")
		case strings.ContainsAny(pat, "?[{") || strings.Contains(pat, "**"):
		case strings.Count(pat, "*") > 1:
			add(SeverityWarning, path, "only the first '*' is a wildcard in %q", pat)
		}
	}

	switch p.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityError, "SITEPACK_METRICS_BACKEND", "unknown backend %q (want none or datadog)", p.Metrics.Backend)
	}
	return out
}

func escapes(rel string) bool {
	c := filepath.Clean(rel)
	return c == ".." || strings.HasPrefix(c, ".."+string(filepath.Separator))
}
