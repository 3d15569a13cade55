package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vexport/internal/fileutil"
	"vexport/internal/logging"
	"vexport/internal/media/ffprobe"
	"vexport/internal/presets"
	"vexport/internal/services"
	"vexport/internal/transcoder"
)

// commandContext is swapped in tests to stub the ffmpeg binary.
var commandContext = exec.CommandContext

type inspectFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Engine implements transcoder.Transcoder over the ffmpeg CLI.
type Engine struct {
	binary        string
	ffprobeBinary string
	inspect       inspectFunc
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFFprobe overrides the ffprobe binary used for duration probing.
func WithFFprobe(binary string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(binary) != "" {
			e.ffprobeBinary = strings.TrimSpace(binary)
		}
	}
}

// New returns an Engine that invokes binary (default "ffmpeg").
func New(binary string, opts ...Option) *Engine {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	e := &Engine{
		binary:        binary,
		ffprobeBinary: "ffprobe",
		inspect:       ffprobe.Inspect,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "ffmpeg")
	return e
}

// Begin implements transcoder.Transcoder.
func (e *Engine) Begin(ctx context.Context, req transcoder.Request) (transcoder.Handle, error) {
	preset, ok := presets.Lookup(req.Preset)
	if !ok || preset.Engine != presets.EngineFFmpeg {
		return nil, services.Wrap(services.ErrValidation, "ffmpeg", "preset", fmt.Sprintf("%s is not an ffmpeg preset", req.Preset), nil)
	}
	if err := checkSource(req.Source.Path); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, services.Wrap(services.ErrValidation, "ffmpeg", "destination", "empty destination", nil)
	}

	probe, err := e.inspect(ctx, e.ffprobeBinary, req.Source.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceUnavailable, "ffmpeg", "probe source", req.Source.Path, err)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		e.logger.Debug("source duration unknown; progress will jump at completion",
			logging.String("source", req.Source.Path))
	}

	format := req.OutputFormat
	if format == "" {
		format = req.Source.Format
	}
	tmp := tempPath(req.Destination)
	args := buildArgs(req.Source.Path, preset.Args, Muxer(format), tmp)

	runCtx, cancel := context.WithCancel(ctx)
	cmd := commandContext(runCtx, e.binary, args...)
	cmd.WaitDelay = 5 * time.Second
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, services.Wrap(services.ErrExternalTool, "ffmpeg", "stdout pipe", "", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, services.Wrap(services.ErrSourceUnavailable, "ffmpeg", "start", e.binary, err)
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Debug("ffmpeg started",
		logging.String("args", strings.Join(args, " ")),
		logging.Float64("duration_seconds", duration),
		logging.String(logging.FieldEventType, "ffmpeg_started"),
	)

	h := transcoder.NewRunHandle(cancel)
	go func() {
		defer cancel()
		parseProgress(stdout, duration, h)
		waitErr := cmd.Wait()
		h.Finish(e.finish(runCtx, waitErr, stderr.String(), tmp, req.Destination, logger))
	}()
	return h, nil
}

// finish classifies the run outcome and moves or discards the temp output.
func (e *Engine) finish(ctx context.Context, waitErr error, stderr, tmp, dest string, logger *slog.Logger) error {
	if waitErr == nil && ctx.Err() == nil {
		if err := fileutil.MoveFile(tmp, dest); err != nil {
			removeQuietly(tmp, logger)
			return services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "finalize output", dest, err)
		}
		return nil
	}
	removeQuietly(tmp, logger)
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, "ffmpeg", "run", "cancelled", ctx.Err())
	}
	return services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "run", lastLine(stderr), waitErr)
}

func buildArgs(src string, presetArgs []string, muxer, out string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}
	args = append(args, presetArgs...)
	args = append(args, "-progress", "pipe:1", "-nostats")
	if muxer != "" {
		args = append(args, "-f", muxer)
	}
	return append(args, out)
}

func checkSource(path string) error {
	if strings.TrimSpace(path) == "" {
		return services.Wrap(services.ErrSourceUnavailable, "ffmpeg", "stat source", "empty path", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrSourceUnavailable, "ffmpeg", "stat source", path, err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrSourceUnavailable, "ffmpeg", "stat source", path+" is not a regular file", nil)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrSourceUnavailable, "ffmpeg", "stat source", path+" is empty", nil)
	}
	return nil
}

// Muxer maps a container identifier to ffmpeg's -f name.
func Muxer(format string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "":
		return ""
	case "mp4", "m4v":
		return "mp4"
	case "mov", "qt":
		return "mov"
	case "mkv":
		return "matroska"
	case "ts", "m2ts":
		return "mpegts"
	case "webm":
		return "webm"
	case "avi":
		return "avi"
	default:
		return strings.ToLower(format)
	}
}

func tempPath(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".partial")
}

func removeQuietly(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Debug("temp output cleanup failed", logging.String("path", path), logging.Error(err))
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "ffmpeg exited with error"
}

var _ transcoder.Transcoder = (*Engine)(nil)
