package session_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"

	"vexport/internal/media/probe"
	"vexport/internal/presets"
	"vexport/internal/queue"
	"vexport/internal/services"
	"vexport/internal/session"
	"vexport/internal/staging"
	"vexport/internal/testsupport"
	"vexport/internal/transcoder"
)

type harness struct {
	dir    string
	source transcoder.Source
	fake   *testsupport.FakeTranscoder
	queue  *queue.Queue
	alloc  *staging.Allocator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mov")
	testsupport.WriteFile(t, src, 4096)
	fake := testsupport.NewFakeTranscoder()
	q := queue.New(fake, testsupport.NewFakeProbe(probe.Dimensions{Width: 1920, Height: 1080}),
		queue.WithProgressInterval(5*time.Millisecond))
	t.Cleanup(q.Stop)
	return &harness{
		dir:    dir,
		source: transcoder.NewSource(src),
		fake:   fake,
		queue:  q,
		alloc:  staging.NewAllocator(filepath.Join(dir, "staging")),
	}
}

func wait(t *testing.T, s *session.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSessionReportsOnlyCompletedJobs(t *testing.T) {
	h := newHarness(t)
	failure := errors.New("encoder crashed")
	h.fake.Script(presets.Passthrough, testsupport.Script{
		Steps:     []float64{0.5},
		StepDelay: 10 * time.Millisecond,
		Size:      2 << 20,
	})
	h.fake.Script(presets.HighestQuality, testsupport.Script{Err: failure})

	s := session.New(h.queue, h.alloc, session.WithPresets(presets.Passthrough, presets.HighestQuality))
	jobs, err := s.StartExport(context.Background(), h.source)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	wait(t, s)

	rows := s.Report(session.UnitMiB)
	want := []session.Row{{Preset: "Passthrough", Width: 1920, Height: 1080, Size: 2.0}}
	if diff := cmp.Diff(want, rows, cmpopts.IgnoreFields(session.Row{}, "Seconds")); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if rows[0].Seconds < 0.01 {
		t.Fatalf("expected at least 10ms export time, got %v", rows[0].Seconds)
	}

	if jobs[1].Status() != queue.StatusFailed {
		t.Fatalf("second job status %s", jobs[1].Status())
	}
	if !errors.Is(jobs[1].Err(), failure) {
		t.Fatalf("second job error %v, want %v", jobs[1].Err(), failure)
	}

	summary := s.Summary()
	if summary[queue.StatusCompleted] != 1 || summary[queue.StatusFailed] != 1 {
		t.Fatalf("summary %v", summary)
	}
}

func TestSessionReportUnits(t *testing.T) {
	h := newHarness(t)
	h.fake.Default = testsupport.Script{Size: 3 << 10}
	s := session.New(h.queue, h.alloc, session.WithPresets(presets.LowQuality))
	if _, err := s.StartExport(context.Background(), h.source); err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	wait(t, s)

	cases := map[session.Unit]float64{
		session.UnitBytes: 3072,
		session.UnitKiB:   3,
		session.UnitMiB:   3.0 / 1024,
	}
	for unit, want := range cases {
		rows := s.Report(unit)
		if len(rows) != 1 || rows[0].Size != want {
			t.Fatalf("%s rows %+v, want size %v", unit, rows, want)
		}
	}
}

type flakyAllocator struct {
	inner  session.Allocator
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (a *flakyAllocator) Allocate(name string) (string, error) {
	a.mu.Lock()
	a.calls++
	fail := a.failOn[a.calls]
	a.mu.Unlock()
	if fail {
		return "", services.Wrap(services.ErrDestinationUnallocatable, "test", "allocate", "disk full", nil)
	}
	return a.inner.Allocate(name)
}

func TestSessionSkipsUnallocatablePresets(t *testing.T) {
	h := newHarness(t)
	alloc := &flakyAllocator{inner: h.alloc, failOn: map[int]bool{2: true}}
	s := session.New(h.queue, alloc, session.WithPresets(presets.Passthrough, presets.MediumQuality, presets.LowQuality))

	jobs, err := s.StartExport(context.Background(), h.source)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	got := make([]presets.ID, 0, len(jobs))
	for _, job := range s.Jobs() {
		got = append(got, job.Preset)
	}
	want := []presets.ID{presets.Passthrough, presets.LowQuality}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("jobs mismatch (-want +got):\n%s", diff)
	}
	wait(t, s)
	for _, call := range h.fake.Calls() {
		if call.Preset == presets.MediumQuality {
			t.Fatal("skipped preset must never reach the transcoder")
		}
	}
}

func TestSessionFailsWhenEveryPresetIsSkipped(t *testing.T) {
	h := newHarness(t)
	alloc := &flakyAllocator{inner: h.alloc, failOn: map[int]bool{1: true, 2: true}}
	s := session.New(h.queue, alloc, session.WithPresets(presets.Passthrough, presets.LowQuality))

	_, err := s.StartExport(context.Background(), h.source)
	if !errors.Is(err, services.ErrDestinationUnallocatable) {
		t.Fatalf("expected unallocatable error, got %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Fatal("no jobs should be listed")
	}
}

func TestSessionRejectsEmptySource(t *testing.T) {
	h := newHarness(t)
	s := session.New(h.queue, h.alloc)
	if _, err := s.StartExport(context.Background(), transcoder.Source{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSessionDestinationsFollowOutputFormat(t *testing.T) {
	h := newHarness(t)
	s := session.New(h.queue, h.alloc,
		session.WithPresets(presets.Passthrough, presets.AV1),
		session.WithOutputFormat(".MP4"),
	)
	jobs, err := s.StartExport(context.Background(), h.source)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	wait(t, s)

	if got := filepath.Base(jobs[0].Destination); got != "clip.mp4" || jobs[0].OutputFormat != "mp4" {
		t.Fatalf("ffmpeg destination %q format %q", got, jobs[0].OutputFormat)
	}
	if got := filepath.Base(jobs[1].Destination); got != "clip.mkv" || jobs[1].OutputFormat != "mkv" {
		t.Fatalf("drapto destination %q format %q", got, jobs[1].OutputFormat)
	}
	if filepath.Dir(jobs[0].Destination) == filepath.Dir(jobs[1].Destination) {
		t.Fatal("each job needs its own staging directory")
	}
}

func TestSessionObserverFactory(t *testing.T) {
	h := newHarness(t)
	h.fake.Default = testsupport.Script{Steps: []float64{0.5}, StepDelay: 10 * time.Millisecond, Size: 1}

	var (
		mu   sync.Mutex
		seen = map[presets.ID]float64{}
	)
	factory := func(id presets.ID) func(float64) {
		return func(p float64) {
			mu.Lock()
			seen[id] = p
			mu.Unlock()
		}
	}
	s := session.New(h.queue, h.alloc,
		session.WithPresets(presets.Passthrough, presets.LowQuality),
		session.WithProgressObserverFactory(factory),
	)
	if _, err := s.StartExport(context.Background(), h.source); err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	wait(t, s)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected observers for both presets, got %v", seen)
	}
}

func TestSessionCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t)
	h.fake.Default = testsupport.Script{Block: true}
	s := session.New(h.queue, h.alloc, session.WithPresets(presets.Passthrough, presets.MediumQuality, presets.LowQuality))
	jobs, err := s.StartExport(context.Background(), h.source)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	testsupport.Eventually(t, 5*time.Second, func() bool {
		return jobs[0].Status() == queue.StatusExporting
	}, "first job never started")

	if n := s.Cancel(); n != 3 {
		t.Fatalf("expected 3 cancellations, got %d", n)
	}
	wait(t, s)
	for _, job := range jobs {
		if job.Status() != queue.StatusCancelled {
			t.Fatalf("%s status %s", job.Preset, job.Status())
		}
	}
	if n := s.Cancel(); n != 0 {
		t.Fatalf("second cancel issued %d requests", n)
	}
	if len(s.Report(session.UnitMiB)) != 0 {
		t.Fatal("cancelled jobs must not be reported")
	}
	h.queue.Stop()
}

func TestSessionWaitHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.fake.Default = testsupport.Script{Block: true}
	s := session.New(h.queue, h.alloc, session.WithPresets(presets.Passthrough))
	if _, err := s.StartExport(context.Background(), h.source); err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSaveReportWritesAtomically(t *testing.T) {
	h := newHarness(t)
	h.fake.Default = testsupport.Script{Size: 1 << 20}
	s := session.New(h.queue, h.alloc, session.WithPresets(presets.Res1280x720))
	if _, err := s.StartExport(context.Background(), h.source); err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	wait(t, s)

	reportDir := filepath.Join(h.dir, "reports")
	path, err := s.SaveReport(reportDir)
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if filepath.Base(path) != session.ReportFileName {
		t.Fatalf("report path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", lines)
	}
	if lines[0] != "Preset, Width (px), Height (px), Size (MB), Time (s)" {
		t.Fatalf("header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1280x720,1920,1080, 1, ") {
		t.Fatalf("row %q", lines[1])
	}

	entries, err := os.ReadDir(reportDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}

	if _, err := s.SaveReport(reportDir); err != nil {
		t.Fatalf("second SaveReport: %v", err)
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []session.Row{
		{Preset: "Passthrough", Width: 1920, Height: 1080, Size: 2, Seconds: 0.0123},
		{Preset: "960x540", Width: 960, Height: 540, Size: 0.25, Seconds: 4},
	}
	var buf bytes.Buffer
	if err := session.WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "Preset, Width (px), Height (px), Size (MB), Time (s)\n" +
		"Passthrough,1920,1080, 2, 0.012\n" +
		"960x540,960,540, 0.25, 4.000\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnit(t *testing.T) {
	cases := []struct {
		in      string
		want    session.Unit
		wantErr bool
	}{
		{"MiB", session.UnitMiB, false},
		{" gib ", session.UnitGiB, false},
		{"bytes", session.UnitBytes, false},
		{"", session.UnitMiB, false},
		{"mb", "", true},
	}
	for _, tc := range cases {
		got, err := session.ParseUnit(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseUnit(%q) err = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseUnit(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if session.UnitKiB.Divisor() != 1024 || session.UnitGiB.Label() != "GiB" {
		t.Fatal("unit helpers")
	}
}
