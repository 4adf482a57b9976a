package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"sitepack/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// idleTicker keeps the background loop from flushing during a test.
func idleTicker(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) }

func newTestBackend(t *testing.T, fs *fakeSubmitter, at int64) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		Service:   "site",
		Tags:      []string{"team:web"},
		submitter: fs,
		now:       func() time.Time { return time.Unix(at, 0) },
		newTicker: idleTicker,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seriesByName(p datadogV2.MetricPayload) map[string]datadogV2.MetricSeries {
	out := make(map[string]datadogV2.MetricSeries, len(p.Series))
	for _, s := range p.Series {
		out[s.Metric+"|"+strings.Join(s.Tags, ",")] = s
	}
	return out
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestKeyRoundTrip verifies series keys keep the name and tag order.
func TestKeyRoundTrip(t *testing.T) {
	k := makeKey("sitepack.files.total", []string{"kind:html", "status:ok"})
	name, tags := k.split()
	if name != "sitepack.files.total" || !reflect.DeepEqual(tags, []string{"kind:html", "status:ok"}) {
		t.Fatalf("split()=(%q,%v)", name, tags)
	}

	name, tags = makeKey("x", nil).split()
	if name != "x" || len(tags) != 0 {
		t.Fatalf("split() without tags=(%q,%v)", name, tags)
	}
}

// TestTagsFor verifies only routed labels are kept, sorted, with "unknown"
// for missing values.
func TestTagsFor(t *testing.T) {
	got := tagsFor(routes[metrics.FilesTotal], metrics.Labels{"status": "ok", "extra": "dropped"})
	want := []string{"kind:unknown", "status:ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tagsFor()=%v, want %v", got, want)
	}
}

// TestPercentileNearestRank verifies percentile behavior.
func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

// TestAddPercentiles verifies the gauge set and that the input is not
// reordered.
func TestAddPercentiles(t *testing.T) {
	samples := []float64{3, 1, 2}
	var series []datadogV2.MetricSeries
	addPercentiles(&series, "sitepack.file.duration_seconds", samples, []string{"kind:js"}, 10)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	want := map[string]float64{".p50": 2, ".p90": 3, ".p95": 3, ".p99": 3, ".max": 3, ".samples": 3}
	for _, s := range series {
		suffix := strings.TrimPrefix(s.Metric, "sitepack.file.duration_seconds")
		if v, ok := want[suffix]; !ok || *s.Points[0].Value != v {
			t.Fatalf("%s=%v, want %v", s.Metric, *s.Points[0].Value, want[suffix])
		}
		if *s.Type != datadogV2.METRICINTAKETYPE_GAUGE || *s.Points[0].Timestamp != 10 {
			t.Fatalf("unexpected series shape: %+v", s)
		}
	}
	if !reflect.DeepEqual(samples, []float64{3, 1, 2}) {
		t.Fatalf("input mutated: %v", samples)
	}

	series = nil
	addPercentiles(&series, "x", nil, nil, 10)
	if len(series) != 0 {
		t.Fatalf("empty samples produced series")
	}
}

// TestFlush_SubmitsAndResets verifies counters and histograms become tagged
// series and a second Flush finds nothing to send.
func TestFlush_SubmitsAndResets(t *testing.T) {
	t.Setenv("ENV", "test")
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, 1000)

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "html", "status": "ok"})
	b.IncCounter(metrics.FilesTotal, 2, metrics.Labels{"kind": "html", "status": "ok"})
	b.IncCounter(metrics.AssetsTotal, 1, metrics.Labels{"source": "remote"})
	b.ObserveHistogram(metrics.FetchDuration, 0.5, metrics.Labels{"status": "200"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	p, ok := fs.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}
	got := seriesByName(p)

	files, ok := got["sitepack.files.total|env:test,service:site,team:web,kind:html,status:ok"]
	if !ok {
		t.Fatalf("files series missing; have %v", keysOf(got))
	}
	if *files.Type != datadogV2.METRICINTAKETYPE_COUNT || *files.Points[0].Value != 3 || *files.Points[0].Timestamp != 1000 {
		t.Fatalf("unexpected files series: %+v", files)
	}
	if _, ok := got["sitepack.assets.total|env:test,service:site,team:web,source:remote"]; !ok {
		t.Fatalf("assets series missing; have %v", keysOf(got))
	}
	if s, ok := got["sitepack.asset.fetch_duration_seconds.p99|env:test,service:site,team:web,status:200"]; !ok || *s.Points[0].Value != 0.5 {
		t.Fatalf("fetch p99 missing or wrong; have %v", keysOf(got))
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

// TestFlush_ReturnsSubmitError verifies submission errors surface and the
// buffer is still reset.
func TestFlush_ReturnsSubmitError(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeSubmitter{err: boom}
	b := newTestBackend(t, fs, 1)

	b.IncCounter(metrics.FilesTotal, 1, nil)
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush() err=%v, want %v", err, boom)
	}
	fs.mu.Lock()
	fs.err = nil
	fs.mu.Unlock()
	if err := b.Flush(); err != nil || fs.count() != 1 {
		t.Fatalf("buffer not reset: err=%v count=%d", err, fs.count())
	}
}

// TestIgnoredEvents verifies unknown names and non-positive or negative
// values are dropped.
func TestIgnoredEvents(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, 1)

	b.IncCounter("etl_batches_total", 1, nil)
	b.IncCounter(metrics.FilesTotal, 0, nil)
	b.IncCounter(metrics.FilesTotal, -1, nil)
	b.ObserveHistogram(metrics.OutputBytes, -5, nil)
	b.ObserveHistogram("unknown_histogram", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("ignored events were submitted")
	}
}

// TestLoopAndClose verifies the ticker drives background flushes and Close
// flushes the tail exactly once.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "js", "status": "ok"})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected a background flush; got %d", fs.count())
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "js", "status": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	n := fs.count()
	if n < 2 {
		t.Fatalf("expected final flush on Close; got %d submissions", n)
	}
	if err := b.Close(); err != nil || fs.count() != n {
		t.Fatalf("second Close flushed again: err=%v count=%d", err, fs.count())
	}
}

// TestBackend_ConcurrentAccess verifies buffering under concurrent writers.
func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs, 3000)

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "html", "status": "ok"})
				b.ObserveHistogram(metrics.FileDuration, 0.01, metrics.Labels{"kind": "html", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	p, _ := fs.last()
	for _, s := range p.Series {
		if s.Metric == "sitepack.files.total" && *s.Points[0].Value != float64(workers*iters) {
			t.Fatalf("files.total=%v, want %d", *s.Points[0].Value, workers*iters)
		}
	}
}

// TestParseTagsCSV verifies trimming and empty-entry removal.
func TestParseTagsCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "team:web", want: []string{"team:web"}},
		{in: " team:web , ,service:site ", want: []string{"team:web", "service:site"}},
	}
	for _, tc := range tests {
		if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
