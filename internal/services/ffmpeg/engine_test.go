package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"vexport/internal/media/ffprobe"
	"vexport/internal/presets"
	"vexport/internal/services"
	"vexport/internal/transcoder"
)

func setHelperCommand(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string(nil), args...)
		}
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func newTestEngine(duration string) *Engine {
	e := New("ffmpeg")
	e.inspect = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Result{Format: ffprobe.Format{Duration: duration}}, nil
	}
	return e
}

func writeSource(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "clip.mov")
	if err := os.WriteFile(src, []byte("not really a movie"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return src
}

func waitDone(t *testing.T, h transcoder.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("handle did not finish")
	}
}

func TestBeginSuccessRenamesOutput(t *testing.T) {
	var args []string
	setHelperCommand(t, "success", &args)
	dir := t.TempDir()
	src := writeSource(t, dir)
	dest := filepath.Join(dir, "out", "clip.mov")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	h, err := newTestEngine("2.0").Begin(context.Background(), transcoder.Request{
		Source:      transcoder.NewSource(src),
		Preset:      presets.Res1280x720,
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	waitDone(t, h)
	if err := h.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if h.Progress() != 1 {
		t.Fatalf("Progress = %v, want 1", h.Progress())
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "encoded" {
		t.Fatalf("destination content %q, err %v", data, err)
	}
	if _, err := os.Stat(tempPath(dest)); !os.IsNotExist(err) {
		t.Fatal("temp output should be gone")
	}

	for _, want := range []string{"-progress", "pipe:1", "-nostats", "-f", "mov"} {
		if !slices.Contains(args, want) {
			t.Fatalf("expected %q in args %v", want, args)
		}
	}
	if !strings.Contains(strings.Join(args, " "), "min(1280,iw)") {
		t.Fatalf("expected preset args in %v", args)
	}
}

func TestBeginFailureRemovesTemp(t *testing.T) {
	setHelperCommand(t, "fail", nil)
	dir := t.TempDir()
	src := writeSource(t, dir)
	dest := filepath.Join(dir, "clip-out.mov")

	h, err := newTestEngine("2.0").Begin(context.Background(), transcoder.Request{
		Source:      transcoder.NewSource(src),
		Preset:      presets.LowQuality,
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	waitDone(t, h)
	err = h.Err()
	if !errors.Is(err, services.ErrTranscodeFailed) {
		t.Fatalf("Err = %v, want ErrTranscodeFailed", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	for _, path := range []string{dest, tempPath(dest)} {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			t.Fatalf("%s should not exist", path)
		}
	}
}

func TestBeginCancel(t *testing.T) {
	setHelperCommand(t, "hang", nil)
	dir := t.TempDir()
	src := writeSource(t, dir)
	dest := filepath.Join(dir, "clip-out.mov")

	h, err := newTestEngine("60").Begin(context.Background(), transcoder.Request{
		Source:      transcoder.NewSource(src),
		Preset:      presets.Passthrough,
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for h.Progress() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p := h.Progress(); p <= 0 || p >= 1 {
		t.Fatalf("expected partial progress before cancel, got %v", p)
	}
	h.Cancel()
	waitDone(t, h)
	if !errors.Is(h.Err(), services.ErrCancelled) {
		t.Fatalf("Err = %v, want ErrCancelled", h.Err())
	}
	if _, err := os.Stat(tempPath(dest)); !os.IsNotExist(err) {
		t.Fatal("temp output should be removed after cancel")
	}
}

func TestBeginSourceUnavailable(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mov")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e := newTestEngine("1")
	for _, src := range []string{"", filepath.Join(dir, "missing.mov"), empty, dir} {
		_, err := e.Begin(context.Background(), transcoder.Request{
			Source:      transcoder.NewSource(src),
			Preset:      presets.Passthrough,
			Destination: filepath.Join(dir, "out.mov"),
		})
		if !errors.Is(err, services.ErrSourceUnavailable) {
			t.Fatalf("Begin(%q) err = %v, want ErrSourceUnavailable", src, err)
		}
	}

	src := writeSource(t, dir)
	e.inspect = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Result{}, errors.New("moov atom not found")
	}
	_, err := e.Begin(context.Background(), transcoder.Request{
		Source:      transcoder.NewSource(src),
		Preset:      presets.Passthrough,
		Destination: filepath.Join(dir, "out.mov"),
	})
	if !errors.Is(err, services.ErrSourceUnavailable) {
		t.Fatalf("probe failure err = %v, want ErrSourceUnavailable", err)
	}
}

func TestBeginRejectsForeignPreset(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestEngine("1").Begin(context.Background(), transcoder.Request{
		Source:      transcoder.NewSource(writeSource(t, dir)),
		Preset:      presets.AV1,
		Destination: filepath.Join(dir, "out.mkv"),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestParseProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=10",
		"out_time_us=1000000",
		"progress=continue",
		"out_time_us=3000000",
		"progress=continue",
		"garbage",
		"out_time_us=4000000",
		"progress=end",
	}, "\n")
	h := transcoder.NewRunHandle(nil)
	parseProgress(strings.NewReader(input), 4, h)
	if h.Progress() != 1 {
		t.Fatalf("Progress = %v, want 1", h.Progress())
	}
	select {
	case <-h.StatusChanges():
	default:
		t.Fatal("expected a status change notification")
	}

	partial := transcoder.NewRunHandle(nil)
	parseProgress(strings.NewReader("out_time_us=1000000\nprogress=continue\n"), 4, partial)
	if partial.Progress() != 0.25 {
		t.Fatalf("Progress = %v, want 0.25", partial.Progress())
	}

	unknown := transcoder.NewRunHandle(nil)
	parseProgress(strings.NewReader("out_time_us=1000000\n"), 0, unknown)
	if unknown.Progress() != 0 {
		t.Fatalf("unknown duration should leave progress at 0, got %v", unknown.Progress())
	}
}

func TestMuxer(t *testing.T) {
	tests := map[string]string{"": "", "MP4": "mp4", ".m4v": "mp4", "mov": "mov", "mkv": "matroska", "flv": "flv"}
	for in, want := range tests {
		if got := Muxer(in); got != want {
			t.Errorf("Muxer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(5)
	fmt.Fprint(b, "abc")
	fmt.Fprint(b, "defgh")
	if got := b.String(); got != "defgh" {
		t.Fatalf("tail = %q, want defgh", got)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	out := args[len(args)-1]
	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		if err := os.WriteFile(out, []byte("encoded"), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Println("out_time_us=1000000")
		fmt.Println("progress=continue")
		fmt.Println("out_time_us=2000000")
		fmt.Println("progress=end")
		os.Exit(0)
	case "fail":
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		fmt.Fprintln(os.Stderr, "clip.mov: Invalid data found when processing input")
		os.Exit(1)
	case "hang":
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		fmt.Println("out_time_us=6000000")
		fmt.Println("progress=continue")
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(3)
}
