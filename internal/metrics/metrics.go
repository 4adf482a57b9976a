// Package metrics is the small facade the build pipeline records into.
//
// Call sites depend only on the package-level functions. A concrete backend
// (see internal/metrics/datadog) is installed once at startup with SetBackend;
// until then every call is a no-op.
package metrics

import "sync"

// Metric names recorded by the pipeline.
const (
	// FilesTotal counts built files. Labels: kind, status ("ok" | "error").
	FilesTotal = "sitepack_files_total"
	// FileDuration observes per-file build time in seconds. Labels: kind, status.
	FileDuration = "sitepack_file_duration_seconds"
	// AssetsTotal counts asset resolutions. Labels: source ("local" | "remote" | "cache" | "unresolved").
	AssetsTotal = "sitepack_assets_total"
	// FetchDuration observes remote fetch time in seconds. Labels: status.
	FetchDuration = "sitepack_asset_fetch_duration_seconds"
	// OutputBytes observes written output sizes. Labels: kind.
	OutputBytes = "sitepack_output_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample for the named histogram.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the installed backend to submit what it has buffered.
func Flush() error {
	return current().Flush()
}
