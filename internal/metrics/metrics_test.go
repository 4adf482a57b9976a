package metrics

import (
	"sync"
	"testing"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	flushes  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		counters: map[string]float64{},
		samples:  map[string][]float64{},
	}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["kind"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], value)
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// TestFacadeRoutesToBackend verifies the package-level functions forward to
// the installed backend and that SetBackend(nil) restores the no-op backend.
//
// Not parallel: the backend is process-wide.
func TestFacadeRoutesToBackend(t *testing.T) {
	rb := newRecordingBackend()
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter(FilesTotal, 1, Labels{"kind": "html"})
	IncCounter(FilesTotal, 2, Labels{"kind": "html"})
	ObserveHistogram(FileDuration, 0.25, Labels{"kind": "html"})
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := rb.counters[FilesTotal+"|html"]; got != 3 {
		t.Fatalf("counter=%v, want 3", got)
	}
	if got := rb.samples[FileDuration]; len(got) != 1 || got[0] != 0.25 {
		t.Fatalf("samples=%v, want [0.25]", got)
	}
	if rb.flushes != 1 {
		t.Fatalf("flushes=%d, want 1", rb.flushes)
	}

	SetBackend(nil)
	IncCounter(FilesTotal, 1, Labels{"kind": "html"})
	if got := rb.counters[FilesTotal+"|html"]; got != 3 {
		t.Fatalf("counter changed after reset: %v", got)
	}
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
