package queue

import (
	"errors"
	"math"
	"testing"
	"time"

	"vexport/internal/media/probe"
	"vexport/internal/presets"
	"vexport/internal/transcoder"
)

func newTestJob(t *testing.T, opts ...JobOption) *Job {
	t.Helper()
	job, err := NewJob(transcoder.NewSource("/media/in.MOV"), presets.MediumQuality, "/staging/out.mov", opts...)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func TestNewJobValidation(t *testing.T) {
	src := transcoder.NewSource("/media/in.mp4")
	cases := []struct {
		name   string
		source transcoder.Source
		preset presets.ID
		dest   string
	}{
		{"empty source", transcoder.Source{}, presets.Passthrough, "/tmp/out"},
		{"empty preset", src, "", "/tmp/out"},
		{"empty destination", src, presets.Passthrough, "  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewJob(tc.source, tc.preset, tc.dest); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewJobDefaults(t *testing.T) {
	job := newTestJob(t)
	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if job.OutputFormat != "mov" {
		t.Fatalf("output format %q", job.OutputFormat)
	}
	if job.Status() != StatusQueued || job.Progress() != 0 || job.Err() != nil {
		t.Fatalf("unexpected initial state %+v", job.Snapshot())
	}

	custom := newTestJob(t, WithJobID("abc"), WithOutputFormat(".MKV"))
	if custom.ID != "abc" || custom.OutputFormat != "mkv" {
		t.Fatalf("options not applied: %q %q", custom.ID, custom.OutputFormat)
	}
}

func TestJobLifecycleRecordsTimings(t *testing.T) {
	job := newTestJob(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := job.markAwaitingSource(base); err != nil {
		t.Fatalf("markAwaitingSource: %v", err)
	}
	if err := job.markExporting(2*time.Second, base.Add(2*time.Second)); err != nil {
		t.Fatalf("markExporting: %v", err)
	}
	if p, ok := job.updateProgress(0.4); !ok || p != 0.4 {
		t.Fatalf("updateProgress = %v, %v", p, ok)
	}
	dims := &probe.Dimensions{Width: 1280, Height: 720}
	if err := job.complete(4096, dims, base.Add(7*time.Second)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	dims.Width = 1

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status %s", snap.Status)
	}
	if snap.TimeToAcquireSource != 2*time.Second || snap.TimeToExport != 5*time.Second {
		t.Fatalf("timings acquire=%s export=%s", snap.TimeToAcquireSource, snap.TimeToExport)
	}
	if *snap.ResultByteSize != 4096 || snap.ResultDimensions.Width != 1280 {
		t.Fatalf("results %v %v", *snap.ResultByteSize, snap.ResultDimensions)
	}
	select {
	case <-job.Done():
	default:
		t.Fatal("Done should be closed")
	}
	*snap.ResultByteSize = 1
	if *job.Snapshot().ResultByteSize != 4096 {
		t.Fatal("snapshot must not alias job state")
	}
}

func TestJobTerminalStatesAreFinal(t *testing.T) {
	job := newTestJob(t)
	now := time.Now()
	if err := job.cancel(errors.New("stop"), now); err != nil {
		t.Fatalf("cancel queued job: %v", err)
	}
	if err := job.fail(errors.New("late"), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := job.markAwaitingSource(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := job.complete(1, nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if job.Status() != StatusCancelled || job.Err().Error() != "stop" {
		t.Fatalf("terminal state changed: %s %v", job.Status(), job.Err())
	}
}

func TestJobCannotSkipAcquisition(t *testing.T) {
	job := newTestJob(t)
	if err := job.markExporting(0, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestJobProgressIsClampedAndMonotonic(t *testing.T) {
	job := newTestJob(t)
	if _, ok := job.updateProgress(0.5); ok {
		t.Fatal("progress must be ignored before exporting")
	}
	_ = job.markAwaitingSource(time.Now())
	_ = job.markExporting(0, time.Now())

	steps := []struct {
		in, want float64
	}{
		{-1, 0},
		{0.3, 0.3},
		{0.1, 0.3},
		{math.NaN(), 0.3},
		{2, 1},
		{0.5, 1},
	}
	for _, step := range steps {
		got, ok := job.updateProgress(step.in)
		if !ok || got != step.want {
			t.Fatalf("updateProgress(%v) = %v, want %v", step.in, got, step.want)
		}
	}
	if job.Progress() != 1 {
		t.Fatalf("Progress() = %v", job.Progress())
	}
}

func TestStatusHelpers(t *testing.T) {
	if s, ok := ParseStatus(" Exporting "); !ok || s != StatusExporting {
		t.Fatalf("ParseStatus = %q, %v", s, ok)
	}
	if _, ok := ParseStatus("ripping"); ok {
		t.Fatal("unknown status should not parse")
	}
	labels := map[Status]string{
		StatusQueued:         "Waiting on Queue",
		StatusAwaitingSource: "Downloading asset data",
		StatusExporting:      "Exporting",
		StatusCompleted:      "Completed",
	}
	for s, want := range labels {
		if got := s.Label(); got != want {
			t.Fatalf("%s label %q, want %q", s, got, want)
		}
	}
	for _, s := range allStatuses {
		want := s == StatusCompleted || s == StatusFailed || s == StatusCancelled
		if s.IsTerminal() != want {
			t.Fatalf("%s IsTerminal = %v", s, s.IsTerminal())
		}
	}
}
